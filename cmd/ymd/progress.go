package main

import (
	"fmt"
	"io"

	"github.com/Laynholt/ymd2/internal/download"
)

// progressPrinter writes a line per playlist whenever its progress changes
type progressPrinter struct {
	w    io.Writer
	seen map[int]download.Snapshot
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w, seen: make(map[int]download.Snapshot)}
}

func (p *progressPrinter) render(snapshots []download.Snapshot) {
	for _, s := range snapshots {
		if last, ok := p.seen[s.Index]; ok && last == s {
			continue
		}
		p.seen[s.Index] = s

		if s.Finished {
			fmt.Fprintf(p.w, "[%d] %s: done, %d succeeded, %d failed\n", s.Index+1, s.Title, s.Succeeded, s.Failed)
			continue
		}
		fmt.Fprintf(p.w, "[%d] %s: %d/%d\n", s.Index+1, s.Title, s.Processed, s.Total)
	}
}

func (p *progressPrinter) summary(snapshots []download.Snapshot) {
	var succeeded, failed int
	for _, s := range snapshots {
		succeeded += s.Succeeded
		failed += s.Failed
	}
	fmt.Fprintf(p.w, "%d playlists, %d tracks succeeded, %d failed\n", len(snapshots), succeeded, failed)
}
