// Package svn wraps repositories, revision roots and file diffs of the
// native library.
//
// Every object lives in a pool. A Repo owns a child of the pool it was
// opened in and each Revision owns a child of its repository's pool, so
// closing a repository reclaims every root read through it:
//
//	repo, err := svn.OpenRepo(ctx, nil, "/srv/repos/project")
//	if err != nil {
//	    return err
//	}
//	defer repo.Close(ctx)
//
//	rev, err := repo.Revision(ctx, 42)
//	if err != nil {
//	    return err
//	}
//	data, err := rev.Contents(ctx, "trunk/README")
//
// Native failures are *svnerr.Error values; match them with errors.Is
// against svnerr.NotFoundError, svnerr.NoSuchRevisionError and the other
// classes.
package svn
