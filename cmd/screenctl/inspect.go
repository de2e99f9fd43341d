package main

import (
	"flag"
	"fmt"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"screensync/internal/encode"
	"screensync/internal/framelog"
)

// runInspect lists the records of a capture and, with -out, writes every
// frame of the matching records as PNG.
func runInspect(out io.Writer, args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	session := fs.String("session", "", "Only records from this session")
	seq := fs.Uint64("seq", 0, "Only the record with this sequence number")
	dir := fs.String("out", "", "Directory to export frames into as PNG")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("expected one capture file")
	}

	r, err := framelog.Open(fs.Arg(0), framelog.Filter{Session: *session, Seq: *seq})
	if err != nil {
		return err
	}
	defer r.Close()

	records, err := r.All()
	if err != nil {
		return err
	}
	for _, rec := range records {
		fmt.Fprintf(out, "%s #%-4d %s %-9s %-9s %dx%d frames=%d bytes=%d digest=%x\n",
			rec.Session, rec.Seq, rec.At.Format("2006-01-02 15:04:05"), rec.Mode, rec.Kind,
			rec.Width, rec.Height, max(rec.Frames, 1), len(rec.Data), rec.Digest[:min(len(rec.Digest), 6)])
		if *dir == "" {
			continue
		}
		files, err := exportRecord(*dir, rec)
		if err != nil {
			return fmt.Errorf("record %d: %w", rec.Seq, err)
		}
		for _, f := range files {
			fmt.Fprintf(out, "  wrote %s\n", f)
		}
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "no matching records")
	}
	return nil
}

// exportRecord decodes rec and writes one PNG per frame into dir.
func exportRecord(dir string, rec framelog.Record) ([]string, error) {
	seq, err := encode.Decode(rec.Payload())
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	var files []string
	for i, f := range seq.Frames {
		name := filepath.Join(dir, fmt.Sprintf("%.8s-%04d-%02d.png", rec.Session, rec.Seq, i))
		file, err := os.Create(name)
		if err != nil {
			return files, err
		}
		err = png.Encode(file, f.Image())
		if cerr := file.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return files, err
		}
		files = append(files, name)
	}
	return files, nil
}
