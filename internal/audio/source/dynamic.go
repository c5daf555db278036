package source

import (
	"container/list"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/coissac/pmomusic/internal/audio/chunk"
	"github.com/coissac/pmomusic/internal/audio/pipeline"
	"github.com/coissac/pmomusic/internal/ffmpeg"
	"github.com/coissac/pmomusic/internal/metadata"
)

// blockWaitTimeout bounds how long the dynamic source waits for a new
// block id before giving up (spec §4.4: "a few seconds").
const blockWaitTimeout = 5 * time.Second

// lruCapacity is the bounded LRU of recently fetched block identifiers
// used to deduplicate re-enqueues (spec §4.4: capacity 10).
const lruCapacity = 10

// Song is one entry from a block's container metadata: a song starting at
// offsetMs milliseconds within the block's decoded audio.
type Song struct {
	OffsetMs int64
	Metadata map[string]string
}

// BlockProvider is the narrow capability a dynamic block source needs from
// whatever remote service it's fronting (e.g. Radio Paradise): a way to
// discover the next pending block id, fetch its song list, and stream its
// decoded PCM body. It is intentionally not tied to any particular HTTP
// API so the source node stays testable with a fake.
type BlockProvider interface {
	// NextBlockID blocks (honoring ctx) until a new block id is available,
	// or returns an error/empty string after blockWaitTimeout-equivalent
	// internal polling gives up.
	NextBlockID(ctx context.Context) (string, error)
	// Songs returns the song list for a block, each with its millisecond
	// offset within the block's audio.
	Songs(ctx context.Context, blockID string) ([]Song, error)
	// Open streams the block's raw audio body for decoding.
	Open(ctx context.Context, blockID string) (io.ReadCloser, error)
}

// DynamicBlockSource maintains a FIFO of pending block ids and a bounded
// LRU of already-fetched ids, downloading and decoding each block in turn
// and emitting a TrackBoundary precisely at each song's offset.
type DynamicBlockSource struct {
	Provider     BlockProvider
	SampleRateHz int

	pending *list.List
	seen    *list.List
	seenSet map[string]*list.Element
	decoder *ffmpeg.Decoder
}

// NewDynamicBlockSource returns a dynamic block source fronting provider.
func NewDynamicBlockSource(provider BlockProvider, sampleRateHz int) *DynamicBlockSource {
	return &DynamicBlockSource{
		Provider:     provider,
		SampleRateHz: sampleRateHz,
		pending:      list.New(),
		seen:         list.New(),
		seenSet:      make(map[string]*list.Element),
		decoder:      ffmpeg.NewDecoder(),
	}
}

func (*DynamicBlockSource) InputType() *pipeline.TypeRequirement { return nil }
func (*DynamicBlockSource) OutputType() *pipeline.TypeRequirement {
	r := pipeline.AnyInteger()
	return &r
}

// enqueue adds id to the pending FIFO unless it's already in the recently
// fetched LRU, deduplicating re-enqueues.
func (s *DynamicBlockSource) enqueue(id string) {
	if _, ok := s.seenSet[id]; ok {
		return
	}
	s.pending.PushBack(id)
}

// markFetched records id as fetched, evicting the least-recently-fetched
// id once the LRU exceeds its capacity.
func (s *DynamicBlockSource) markFetched(id string) {
	el := s.seen.PushBack(id)
	s.seenSet[id] = el
	for s.seen.Len() > lruCapacity {
		front := s.seen.Front()
		s.seen.Remove(front)
		delete(s.seenSet, front.Value.(string))
	}
}

func (s *DynamicBlockSource) Run(token pipeline.CancelToken, in <-chan chunk.AudioSegment, out []chan<- chunk.AudioSegment) error {
	var order uint64
	ctx := pipeline.ContextOf(token)

	if err := pipeline.Send(token, out, chunk.NewMarkerSegment(order, 0, chunk.TopZeroSync{})); err != nil {
		return err
	}
	order++

	var timestamp float64
	firstBlock := true

	for {
		select {
		case <-token.Done():
			return nil
		default:
		}

		if s.pending.Len() == 0 {
			waitCtx, cancel := context.WithTimeout(ctx, blockWaitTimeout)
			id, err := s.Provider.NextBlockID(waitCtx)
			cancel()
			if err != nil || id == "" {
				slog.Info("dynamic block source: no new block within wait window, stopping")
				eos := chunk.NewMarkerSegment(order, timestamp, chunk.EndOfStream{Order: order, FinalTimestamp: timestamp})
				return pipeline.Send(token, out, eos)
			}
			s.enqueue(id)
			if s.pending.Len() == 0 {
				continue
			}
		}

		front := s.pending.Front()
		blockID := front.Value.(string)
		s.pending.Remove(front)
		s.markFetched(blockID)

		songs, err := s.Provider.Songs(ctx, blockID)
		if err != nil {
			return fmt.Errorf("dynamic block source: songs for block %s: %w", blockID, err)
		}

		body, err := s.Provider.Open(ctx, blockID)
		if err != nil {
			return fmt.Errorf("dynamic block source: open block %s: %w", blockID, err)
		}

		info, pcm, wait, err := s.decoder.DecodeReader(ctx, body, s.SampleRateHz, 16)
		if err != nil {
			body.Close()
			return fmt.Errorf("dynamic block source: decode block %s: %w", blockID, err)
		}

		var blockSamples int64
		songIdx := 0
		frameCount := targetFrameCount(info.SampleRateHz)

		for {
			// Emit any TrackBoundary whose sample offset falls before the
			// next chunk's samples, ahead of the chunk that contains it.
			for songIdx < len(songs) {
				offsetSamples := songs[songIdx].OffsetMs * int64(info.SampleRateHz) / 1000
				if offsetSamples >= blockSamples+int64(frameCount) && !(firstBlock && songIdx == 0) {
					break
				}
				boundaryTs := timestamp + float64(offsetSamples-blockSamples)/float64(info.SampleRateHz)
				if err := pipeline.Send(token, out, chunk.NewMarkerSegment(order, boundaryTs, chunk.TrackBoundary{
					Order: order, Timestamp: boundaryTs,
					Metadata: metadata.NewMapProviderFromStrings(songs[songIdx].Metadata),
				})); err != nil {
					body.Close()
					return err
				}
				order++
				songIdx++
			}

			d, err := ffmpeg.ReadI16Chunk(pcm, info.SampleRateHz, frameCount, timestamp)
			if err == io.EOF {
				break
			}
			if err != nil {
				body.Close()
				return fmt.Errorf("dynamic block source: decode read: %w", err)
			}
			if err := pipeline.Send(token, out, chunk.NewChunkSegment(order, chunk.WrapI16(d))); err != nil {
				body.Close()
				return err
			}
			order++
			blockSamples += int64(d.FrameCount())
			timestamp += d.Duration()
		}

		if err := wait(); err != nil {
			body.Close()
			return err
		}
		body.Close()
		firstBlock = false
	}
}
