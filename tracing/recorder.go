// Package tracing records what happened during one lookup: a checkpoint per
// workflow step (screenshot, DOM snapshot, URL) plus page events, flushed as
// a single zip archive into the request directory.
package tracing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/klauspost/compress/zip"
	"github.com/use-agent/ppsr/logging"
)

// Checkpoint statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// checkpointTimeout bounds the screenshot and snapshot of one checkpoint.
// Checkpoints run on the session's base page, outside any step deadline.
const checkpointTimeout = 10 * time.Second

// Checkpoint is one named point in the workflow.
type Checkpoint struct {
	Seq        int       `json:"seq"`
	Step       string    `json:"step"`
	Status     string    `json:"status"`
	At         time.Time `json:"at"`
	URL        string    `json:"url,omitempty"`
	Title      string    `json:"title,omitempty"`
	Screenshot string    `json:"screenshot,omitempty"`
	Snapshot   string    `json:"snapshot,omitempty"`
	Note       string    `json:"note,omitempty"`
}

// Event is a page or workflow event (console line, dialog, action, error).
type Event struct {
	At      time.Time `json:"at"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
}

// Manifest is trace.json inside the archive.
type Manifest struct {
	RequestID   string       `json:"request_id"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at"`
	Outcome     string       `json:"outcome"`
	Checkpoints []Checkpoint `json:"checkpoints"`
}

// Recorder collects checkpoints and events for one request. It is safe for
// concurrent use; page event listeners write to it from their own goroutine.
type Recorder struct {
	mu          sync.Mutex
	requestID   string
	dir         string
	maxWidth    int
	secrets     []string
	started     time.Time
	checkpoints []Checkpoint
	events      []Event
	entries     map[string][]byte
	tracePath   string
	flushed     bool

	// mask and capture are the page operations behind a screenshot.
	mask    func(p *rod.Page, secrets []string) (unmask func(), err error)
	capture func(p *rod.Page) ([]byte, error)
}

// ErrMaskFailed means secrets could not be hidden on the page, so no
// screenshot was taken.
var ErrMaskFailed = errors.New("could not mask credentials on page")

// NewRecorder returns a recorder writing into dir. Screenshots wider than
// maxWidth are downscaled (0 keeps them as captured). Every secret is
// scrubbed from snapshots, notes and events, and masked in screenshots.
func NewRecorder(requestID, dir string, maxWidth int, secrets ...string) *Recorder {
	return &Recorder{
		requestID: requestID,
		dir:       dir,
		maxWidth:  maxWidth,
		secrets:   logging.Maskable(secrets...),
		started:   time.Now(),
		entries:   make(map[string][]byte),
		tracePath: filepath.Join(dir, fmt.Sprintf("trace-%s.zip", requestID)),
		mask:      maskPage,
		capture:   capturePage,
	}
}

// Path is where Flush writes the archive.
func (r *Recorder) Path() string {
	return r.tracePath
}

// Event records a page or workflow event.
func (r *Recorder) Event(kind, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{At: time.Now(), Kind: kind, Message: logging.Scrub(msg, r.secrets...)})
}

// Checkpoint captures page state under the given step name. page may be nil
// when no browser session could be opened; the checkpoint is still recorded.
// Capture failures are recorded as events, never returned: a checkpoint must
// not turn a successful step into a failed one.
func (r *Recorder) Checkpoint(page *rod.Page, step, status, note string) Checkpoint {
	r.mu.Lock()
	seq := len(r.checkpoints) + 1
	r.mu.Unlock()

	cp := Checkpoint{
		Seq:    seq,
		Step:   step,
		Status: status,
		At:     time.Now(),
		Note:   logging.Scrub(note, r.secrets...),
	}

	if page != nil {
		p := page.Timeout(checkpointTimeout)
		defer p.CancelTimeout()

		if info, err := p.Info(); err == nil {
			cp.URL = info.URL
			cp.Title = info.Title
		}

		base := fmt.Sprintf("%02d-%s", seq, step)
		if status == StatusFailed {
			base += "-failed"
		}

		if html, err := p.HTML(); err == nil {
			cp.Snapshot = "snapshots/" + base + ".html"
			r.mu.Lock()
			r.entries[cp.Snapshot] = []byte(logging.Scrub(html, r.secrets...))
			r.mu.Unlock()
		} else {
			r.Event("trace", fmt.Sprintf("snapshot %s failed: %v", base, err))
		}

		if png, err := r.screenshot(p); err == nil {
			name := base + ".png"
			if werr := os.WriteFile(filepath.Join(r.dir, name), png, 0o644); werr == nil {
				cp.Screenshot = name
				r.mu.Lock()
				r.entries["screenshots/"+name] = png
				r.mu.Unlock()
			} else {
				r.Event("trace", fmt.Sprintf("write screenshot %s failed: %v", name, werr))
			}
		} else {
			r.Event("trace", fmt.Sprintf("screenshot %s failed: %v", base, err))
		}
	}

	r.mu.Lock()
	r.checkpoints = append(r.checkpoints, cp)
	r.mu.Unlock()
	return cp
}

// Screenshots lists the screenshot file names written so far, in order.
func (r *Recorder) Screenshots() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	for _, cp := range r.checkpoints {
		if cp.Screenshot != "" {
			names = append(names, cp.Screenshot)
		}
	}
	return names
}

// Checkpoints returns a copy of the recorded checkpoints.
func (r *Recorder) Checkpoints() []Checkpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Checkpoint(nil), r.checkpoints...)
}

// Flush writes the trace archive. Only the first call writes; later calls
// return the same path. The archive is written to a temp file and renamed,
// so a partial archive is never visible.
func (r *Recorder) Flush(outcome string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.flushed {
		return r.tracePath, nil
	}
	r.flushed = true

	tmp, err := os.CreateTemp(r.dir, ".trace-*.zip")
	if err != nil {
		return "", fmt.Errorf("create trace archive: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := r.writeArchive(tmp, outcome); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close trace archive: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.tracePath); err != nil {
		return "", fmt.Errorf("publish trace archive: %w", err)
	}
	return r.tracePath, nil
}

func (r *Recorder) writeArchive(f *os.File, outcome string) error {
	zw := zip.NewWriter(f)
	now := time.Now()

	manifest, err := json.MarshalIndent(Manifest{
		RequestID:   r.requestID,
		StartedAt:   r.started,
		FinishedAt:  now,
		Outcome:     outcome,
		Checkpoints: r.checkpoints,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode trace manifest: %w", err)
	}
	if err := addEntry(zw, "trace.json", manifest, now); err != nil {
		return err
	}

	var log bytes.Buffer
	for _, e := range r.events {
		fmt.Fprintf(&log, "%s\t%s\t%s\n", e.At.Format(time.RFC3339Nano), e.Kind, e.Message)
	}
	if err := addEntry(zw, "events.log", log.Bytes(), now); err != nil {
		return err
	}

	for name, data := range r.entries {
		if err := addEntry(zw, name, data, now); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish trace archive: %w", err)
	}
	return nil
}

func addEntry(zw *zip.Writer, name string, data []byte, modified time.Time) error {
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: modified,
	})
	if err != nil {
		return fmt.Errorf("add %s to trace: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write %s to trace: %w", name, err)
	}
	return nil
}

// maskJS hides every secret on screen for the duration of a screenshot:
// inputs holding one render as bullets and text nodes get the secret
// replaced. unmaskJS puts everything back.
const maskJS = `(secrets) => {
	const hit = (v) => !!v && secrets.some(s => v.includes(s));
	const masked = [];
	for (const el of document.querySelectorAll('input, textarea')) {
		if (el.type === 'password' || !hit(el.value)) continue;
		masked.push({ el, security: el.style.webkitTextSecurity });
		el.style.webkitTextSecurity = 'disc';
	}
	const root = document.body || document.documentElement;
	if (root) {
		const walker = document.createTreeWalker(root, NodeFilter.SHOW_TEXT);
		for (let n = walker.nextNode(); n; n = walker.nextNode()) {
			if (!hit(n.nodeValue)) continue;
			let v = n.nodeValue;
			for (const s of secrets) v = v.split(s).join('[REDACTED]');
			masked.push({ node: n, text: n.nodeValue });
			n.nodeValue = v;
		}
	}
	window.__traceMasked = masked;
}`

const unmaskJS = `() => {
	for (const m of window.__traceMasked || []) {
		if (m.el) m.el.style.webkitTextSecurity = m.security;
		else m.node.nodeValue = m.text;
	}
	delete window.__traceMasked;
}`

func maskPage(p *rod.Page, secrets []string) (func(), error) {
	if _, err := p.Eval(maskJS, secrets); err != nil {
		return nil, err
	}
	return func() { _, _ = p.Eval(unmaskJS) }, nil
}

func capturePage(p *rod.Page) ([]byte, error) {
	return p.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

// screenshot captures p with every secret masked. When masking fails the
// page is not captured at all.
func (r *Recorder) screenshot(p *rod.Page) ([]byte, error) {
	if len(r.secrets) > 0 {
		unmask, err := r.mask(p, r.secrets)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMaskFailed, err)
		}
		defer unmask()
	}

	png, err := r.capture(p)
	if err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	if r.maxWidth <= 0 {
		return png, nil
	}

	img, err := imaging.Decode(bytes.NewReader(png))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	if img.Bounds().Dx() <= r.maxWidth {
		return png, nil
	}
	img = imaging.Resize(img, r.maxWidth, 0, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode screenshot: %w", err)
	}
	return buf.Bytes(), nil
}
