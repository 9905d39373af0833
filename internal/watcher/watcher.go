// Package watcher anonymizes documents dropped into an inbox directory.
//
// New .txt files in the watched directory are read, anonymized through the
// pipeline, and written to the output directory as document artifacts
// (<name>.json) carrying the redacted body and the embedded payload.
// New .pdf files go through the PDF sidecar and come out as redacted .pdf
// files with the payload in their XMP metadata. The source file is left in
// place; artifacts are written atomically so a consumer of the output
// directory never sees a partial file.
package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"openanonymiser/internal/anonymizer"
	"openanonymiser/internal/document"
	"openanonymiser/internal/logger"
)

// settleDelay is how long a file must be quiet before it is processed.
// Editors and copy tools fire several writes per file.
const settleDelay = 200 * time.Millisecond

// Watcher drives inbox anonymization.
type Watcher struct {
	pipeline *anonymizer.Pipeline
	watchDir string
	outDir   string
	language string
	secret   []byte
	pdfURL   string // sidecar for .pdf drops; empty disables PDF handling
	log      *logger.Logger
}

// New creates a Watcher. watchDir and outDir must both be set.
func New(p *anonymizer.Pipeline, watchDir, outDir, language string, secret []byte, log *logger.Logger) (*Watcher, error) {
	if p == nil {
		return nil, errors.New("watcher: pipeline is required")
	}
	if watchDir == "" || outDir == "" {
		return nil, errors.New("watcher: watch and output directories are required")
	}
	if len(secret) == 0 {
		return nil, errors.New("watcher: crypto key is required")
	}
	if log == nil {
		log = logger.New("WATCHER", "info")
	}
	return &Watcher{
		pipeline: p,
		watchDir: watchDir,
		outDir:   outDir,
		language: language,
		secret:   secret,
		log:      log,
	}, nil
}

// WithPDFService enables .pdf handling through the sidecar at url.
func (w *Watcher) WithPDFService(url string) *Watcher {
	w.pdfURL = url
	return w
}

// Run watches the inbox until ctx is cancelled. Files already present at
// startup are processed first, so a restart never skips pending drops.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.outDir, 0o750); err != nil {
		return err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close() //nolint:errcheck

	if err := fw.Add(w.watchDir); err != nil {
		return err
	}
	w.log.Infof("watch", "watching %s, output to %s", w.watchDir, w.outDir)

	w.processExisting(ctx)

	// pending maps paths to their settle timers; a new event on the same
	// path restarts the countdown.
	pending := map[string]*time.Timer{}
	done := make(chan string, 16)

	for {
		select {
		case <-ctx.Done():
			for _, t := range pending {
				t.Stop()
			}
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.isWatched(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			path := event.Name
			if t, exists := pending[path]; exists {
				t.Reset(settleDelay)
				continue
			}
			// The callback must not block forever on a full done channel
			// after shutdown, or fired timers leak their goroutines.
			pending[path] = time.AfterFunc(settleDelay, func() {
				select {
				case done <- path:
				case <-ctx.Done():
				}
			})

		case path := <-done:
			delete(pending, path)
			w.process(ctx, path)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warnf("watch", "watch error: %v", err)
		}
	}
}

// processExisting handles files that were already in the inbox at startup.
func (w *Watcher) processExisting(ctx context.Context) {
	entries, err := os.ReadDir(w.watchDir)
	if err != nil {
		w.log.Warnf("scan", "cannot read %s: %v", w.watchDir, err)
		return
	}
	for _, e := range entries {
		if e.IsDir() || !w.isWatched(e.Name()) {
			continue
		}
		w.process(ctx, filepath.Join(w.watchDir, e.Name()))
	}
}

// process anonymizes one file and writes its artifact. Failures are logged,
// not fatal: one poisoned drop must not stop the watcher.
func (w *Watcher) process(ctx context.Context, path string) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the watched directory
	if err != nil {
		w.log.Warnf("process", "read %s: %v", path, err)
		return
	}

	var doc document.Document
	pdf := isPDFFile(path)
	if pdf {
		doc = document.NewPDF(ctx, w.pdfURL, data)
	} else {
		doc = document.NewText(string(data))
	}

	n, err := w.pipeline.AnonymizeDocument(ctx, doc, w.language, nil, w.secret)
	if err != nil {
		w.log.Errorf("process", "anonymize %s: %v", path, err)
		return
	}

	var out []byte
	if pdf {
		out = doc.(*document.PDF).Bytes()
	} else {
		if out, err = doc.(*document.Text).Marshal(); err != nil {
			w.log.Errorf("process", "marshal %s: %v", path, err)
			return
		}
	}

	target := w.artifactPath(path)
	if err := writeAtomic(target, out); err != nil {
		w.log.Errorf("process", "write %s: %v", target, err)
		return
	}
	w.log.Infof("process", "%s: %d entities, artifact %s", filepath.Base(path), n, filepath.Base(target))
}

// artifactPath maps inbox/name.txt to outdir/name.json; PDFs keep their
// extension since the artifact is itself a PDF.
func (w *Watcher) artifactPath(path string) string {
	base := filepath.Base(path)
	if isPDFFile(path) {
		return filepath.Join(w.outDir, base)
	}
	base = strings.TrimSuffix(base, filepath.Ext(base)) + ".json"
	return filepath.Join(w.outDir, base)
}

// writeAtomic writes data via a temp file and rename so readers of the
// output directory never observe a partial artifact.
func writeAtomic(target string, data []byte) error {
	dir := filepath.Dir(target)
	tmp, err := os.CreateTemp(dir, ".artifact-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()        //nolint:errcheck // best-effort cleanup
		os.Remove(tmpName) //nolint:errcheck
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return err
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return err
	}
	return nil
}

func (w *Watcher) isWatched(path string) bool {
	if strings.EqualFold(filepath.Ext(path), ".txt") {
		return true
	}
	return w.pdfURL != "" && isPDFFile(path)
}

func isPDFFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}
