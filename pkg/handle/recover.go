package handle

import (
	"context"
	"fmt"

	"github.com/marmos91/webhdfsfs/internal/logger"
	"github.com/marmos91/webhdfsfs/pkg/journal"
	"github.com/marmos91/webhdfsfs/pkg/metadata"
	"github.com/marmos91/webhdfsfs/pkg/webhdfs"
)

// RecoveryReport summarizes a journal replay.
type RecoveryReport struct {
	Replayed int
	Failed   int
	Bytes    int64
}

// Recover replays journaled buffers against the server, oldest first.
//
// Delivered entries are removed from the journal; entries that fail again
// are kept for the next mount. Only an unreadable journal is an error.
func (m *Manager) Recover(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport
	if m.journal == nil {
		return report, nil
	}

	entries, err := m.journal.List(ctx)
	if err != nil {
		return report, fmt.Errorf("list journal: %w", err)
	}
	if len(entries) > 0 {
		logger.Info("Replaying %d journaled write buffer(s)", len(entries))
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		err := m.replay(ctx, e)
		m.metrics.RecordRecovered(int64(len(e.Data)), err)
		if err != nil {
			report.Failed++
			logger.Warn("Journaled buffer %s for %s not replayed: %v", e.Token, e.Path, err)
			continue
		}

		if err := m.journal.Remove(ctx, e.Token); err != nil {
			return report, fmt.Errorf("remove journal entry %s: %w", e.Token, err)
		}
		report.Replayed++
		report.Bytes += int64(len(e.Data))
		logger.Info("Replayed %d journaled bytes to %s", len(e.Data), e.Path)
	}

	return report, nil
}

func (m *Manager) replay(ctx context.Context, e journal.Entry) error {
	switch e.Kind {
	case journal.KindCreate:
		return m.transport.Create(ctx, e.Path, e.Data, webhdfs.CreateOptions{Overwrite: true})

	case journal.KindAppend:
		attr, err := m.transport.GetFileStatus(ctx, e.Path)
		if err != nil {
			return err
		}

		// A prefix of the entry may have reached the server before the
		// failure; only the remainder is appended.
		size := int64(attr.Size)
		end := e.Offset + int64(len(e.Data))
		if size < e.Offset || size > end {
			return metadata.NewError(metadata.ErrRemoteProtocol, "recover", e.Path,
				"remote length %d outside journaled range [%d, %d]", size, e.Offset, end)
		}
		rest := e.Data[size-e.Offset:]
		if len(rest) == 0 {
			return nil
		}
		return m.transport.Append(ctx, e.Path, rest)

	default:
		return metadata.NewError(metadata.ErrInvalidArgument, "recover", e.Path, "unknown journal entry kind %q", e.Kind)
	}
}
