package source

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/coissac/pmomusic/internal/audio/chunk"
	"github.com/coissac/pmomusic/internal/audio/pipeline"
	"github.com/coissac/pmomusic/internal/ffmpeg"
	"github.com/coissac/pmomusic/internal/metadata"
)

// defaultHTTPTimeout bounds the initial GET; per spec §5 all outbound
// network reads carry an explicit deadline.
const defaultHTTPTimeout = 10 * time.Second

// HTTPSource issues a GET against a remote stream URL, validates the
// response, and pipes the body through the same decode-then-chunk
// machinery as FileSource. ICY and Content-Type headers seed the initial
// TrackBoundary's metadata, with a URL-basename title fallback.
type HTTPSource struct {
	URL          string
	SampleRateHz int
	Client       *http.Client
	decoder      *ffmpeg.Decoder
}

// NewHTTPSource returns a source node for a remote stream URL.
func NewHTTPSource(streamURL string, sampleRateHz int) *HTTPSource {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = defaultHTTPTimeout
	return &HTTPSource{
		URL:          streamURL,
		SampleRateHz: sampleRateHz,
		Client:       &http.Client{Transport: transport},
		decoder:      ffmpeg.NewDecoder(),
	}
}

func (*HTTPSource) InputType() *pipeline.TypeRequirement { return nil }
func (*HTTPSource) OutputType() *pipeline.TypeRequirement {
	r := pipeline.AnyInteger()
	return &r
}

func titleFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	base := path.Base(u.Path)
	return strings.TrimSuffix(base, path.Ext(base))
}

func (s *HTTPSource) Run(token pipeline.CancelToken, in <-chan chunk.AudioSegment, out []chan<- chunk.AudioSegment) error {
	var order uint64
	ctx := pipeline.ContextOf(token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return fmt.Errorf("http source: build request: %w", err)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("http source: GET %s: %w", s.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("http source: GET %s: unexpected status %d", s.URL, resp.StatusCode)
	}

	meta := metadata.NewMapProvider()
	if name := resp.Header.Get("icy-name"); name != "" {
		meta.Set(metadata.FieldTitle, name)
	} else {
		meta.Set(metadata.FieldTitle, titleFromURL(s.URL))
	}
	freeForm := map[string]string{}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		freeForm["content_type"] = ct
	}
	if genre := resp.Header.Get("icy-genre"); genre != "" {
		freeForm["genre"] = genre
	}
	meta.SetFreeForm(freeForm)

	if err := pipeline.Send(token, out, chunk.NewMarkerSegment(order, 0, chunk.TopZeroSync{})); err != nil {
		return err
	}
	order++
	if err := pipeline.Send(token, out, chunk.NewMarkerSegment(order, 0, chunk.TrackBoundary{
		Order: order, Timestamp: 0, Metadata: meta,
	})); err != nil {
		return err
	}
	order++

	pr, pw := io.Pipe()
	copyErrCh := make(chan error, 1)
	go func() {
		_, err := io.Copy(pw, resp.Body)
		pw.CloseWithError(err)
		copyErrCh <- err
	}()

	info, body, wait, err := s.decoder.DecodeReader(ctx, pr, s.SampleRateHz, 16)
	if err != nil {
		return fmt.Errorf("http source: decode: %w", err)
	}
	defer body.Close()

	frameCount := targetFrameCount(info.SampleRateHz)
	var timestamp float64
	for {
		d, err := ffmpeg.ReadI16Chunk(body, info.SampleRateHz, frameCount, timestamp)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("http source: decode read: %w", err)
		}
		if err := pipeline.Send(token, out, chunk.NewChunkSegment(order, chunk.WrapI16(d))); err != nil {
			return err
		}
		order++
		timestamp += d.Duration()
	}
	if err := wait(); err != nil {
		return err
	}

	eos := chunk.NewMarkerSegment(order, timestamp, chunk.EndOfStream{Order: order, FinalTimestamp: timestamp})
	return pipeline.Send(token, out, eos)
}
