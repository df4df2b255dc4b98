package remote

import (
	"context"
	"fmt"
)

// Walk traverses the remote tree breadth-first from root, calling fn
// with each directory's visible entries. Hidden directories are not
// descended into, which keeps control files like the progress ledger
// out of scans. A listing failure aborts the walk.
func Walk(ctx context.Context, c Capability, root string, fn func(dir string, entries []Entry) error) error {
	queue := []string{root}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		dir := queue[0]
		queue = queue[1:]

		entries, err := c.List(ctx, dir)
		if err != nil {
			return fmt.Errorf("listing %s: %w", dir, err)
		}
		if err := fn(dir, entries); err != nil {
			return err
		}
		for _, e := range entries {
			if e.IsDir() && !e.IsHidden {
				queue = append(queue, e.Path)
			}
		}
	}
	return nil
}

// ScanVideos walks the tree under root and returns every visible video
// file, in walk order.
func ScanVideos(ctx context.Context, c Capability, root string) ([]Entry, error) {
	var videos []Entry
	err := Walk(ctx, c, root, func(_ string, entries []Entry) error {
		for _, e := range entries {
			if !e.IsDir() && !e.IsHidden && IsVideoName(e.Name) {
				videos = append(videos, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return videos, nil
}
