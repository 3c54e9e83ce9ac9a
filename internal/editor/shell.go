package editor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/mapfy/mapfy/internal/config"
	"github.com/mapfy/mapfy/internal/dispatcher"
	"github.com/mapfy/mapfy/internal/drawtool"
	"github.com/mapfy/mapfy/internal/fileio"
	"github.com/mapfy/mapfy/internal/influx"
	"github.com/mapfy/mapfy/internal/logging"
	"github.com/mapfy/mapfy/internal/persist"
	"github.com/mapfy/mapfy/pkg/geojson"
)

// Telemetry receives editor usage points. *influx.Manager satisfies it.
type Telemetry interface {
	WritePoint(ctx context.Context, bucket string, point *influxdb2_write.Point) error
}

// Shell command payloads. Commands that carry no payload take nil.
type (
	SaveCommand struct {
		Name        string
		Description string
	}
	LoadCommand   struct{ ID uint }
	DeleteCommand struct{ ID uint }
	ImportCommand struct {
		Filename string
		Data     io.Reader
	}
	ExportCommand struct {
		Format fileio.Format
		To     io.Writer
	}
)

// Shell routes UI commands to the editing session by name, so the UI layer
// talks in plain command strings instead of holding the coordinators.
// Saves run buffered: the UI gets "queued" immediately and the outcome
// surfaces through the notification center.
type Shell struct {
	d         *dispatcher.Dispatcher
	ed        *Editor
	ps        *persist.Coordinator
	telemetry Telemetry
	log       *slog.Logger
	cancel    context.CancelFunc
}

// NewShell builds the command table for one session, wires the editor's
// change stream to the persistence dirty flag, and starts the autosave
// timer at editor.autosaveInterval (0 disables it).
func NewShell(ed *Editor, ps *persist.Coordinator, log *slog.Logger) (*Shell, error) {
	if log == nil {
		log = slog.Default()
	}
	d, err := dispatcher.New(logging.NewDispatcherLogger(log))
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Shell{d: d, ed: ed, ps: ps, log: log, cancel: cancel}
	s.register()

	ed.OnChange(func(geojson.Collection) {
		ps.MarkDirty()
	})
	if interval := config.GetEditorConfig().AutosaveInterval; interval > 0 {
		go ps.RunAutosave(ctx, interval)
	}
	return s, nil
}

// Close stops the autosave timer. The editor session itself is closed
// separately.
func (s *Shell) Close() {
	s.cancel()
}

// SetTelemetry attaches a usage telemetry sink; every dispatched command is
// then recorded as an editor action.
func (s *Shell) SetTelemetry(t Telemetry) {
	s.telemetry = t
}

// Dispatch runs one command. Unknown commands and payload type mismatches
// are errors, not panics.
func (s *Shell) Dispatch(command string, payload any) (any, error) {
	res, err := s.d.Dispatch(dispatcher.Event{Command: command, Payload: payload, Timestamp: time.Now()})
	if err == nil && s.telemetry != nil {
		point := influx.EditorActionPoint(command, string(s.ed.draw.Tool()), len(s.ed.Features().Features))
		if werr := s.telemetry.WritePoint(context.Background(), influx.BucketEditorActivity, point); werr != nil {
			s.log.Warn("failed to record editor action", "command", command, "error", werr)
		}
	}
	return res, err
}

func (s *Shell) register() {
	s.d.Register("setTool", func(e dispatcher.Event) (any, error) {
		tool, ok := e.Payload.(string)
		if !ok {
			return nil, fmt.Errorf("setTool wants a string, got %T", e.Payload)
		}
		return nil, s.ed.SetTool(drawtool.Tool(tool))
	})

	s.d.Register("setStyle", func(e dispatcher.Event) (any, error) {
		style, ok := e.Payload.(string)
		if !ok {
			return nil, fmt.Errorf("setStyle wants a string, got %T", e.Payload)
		}
		return nil, s.ed.SetStyle(style)
	}, dispatcher.Logged())

	s.d.Register("trash", func(e dispatcher.Event) (any, error) {
		return nil, s.ed.Trash()
	})

	s.d.Register("fitToFeatures", func(e dispatcher.Event) (any, error) {
		s.ed.FitToFeatures()
		return nil, nil
	})

	s.d.Register("newMap", func(e dispatcher.Event) (any, error) {
		s.ps.Reset()
		return nil, nil
	})

	s.d.Register("save", func(e dispatcher.Event) (any, error) {
		cmd, ok := e.Payload.(SaveCommand)
		if !ok {
			return nil, fmt.Errorf("save wants a SaveCommand, got %T", e.Payload)
		}
		return nil, s.ps.Save(context.Background(), cmd.Name, cmd.Description)
	}, dispatcher.Buffered(4), dispatcher.Logged())

	s.d.Register("load", func(e dispatcher.Event) (any, error) {
		cmd, ok := e.Payload.(LoadCommand)
		if !ok {
			return nil, fmt.Errorf("load wants a LoadCommand, got %T", e.Payload)
		}
		return nil, s.ps.Load(context.Background(), cmd.ID)
	}, dispatcher.Logged())

	s.d.Register("listMaps", func(e dispatcher.Event) (any, error) {
		return s.ps.List(context.Background())
	})

	s.d.Register("deleteMap", func(e dispatcher.Event) (any, error) {
		cmd, ok := e.Payload.(DeleteCommand)
		if !ok {
			return nil, fmt.Errorf("deleteMap wants a DeleteCommand, got %T", e.Payload)
		}
		return nil, s.ps.Delete(context.Background(), cmd.ID)
	}, dispatcher.Logged())

	s.d.Register("importFile", func(e dispatcher.Event) (any, error) {
		cmd, ok := e.Payload.(ImportCommand)
		if !ok {
			return nil, fmt.Errorf("importFile wants an ImportCommand, got %T", e.Payload)
		}
		col, err := fileio.Import(cmd.Filename, cmd.Data)
		if err != nil {
			return nil, err
		}
		return len(col.Features), s.ed.Import(col)
	}, dispatcher.Logged())

	s.d.Register("exportFile", func(e dispatcher.Event) (any, error) {
		cmd, ok := e.Payload.(ExportCommand)
		if !ok {
			return nil, fmt.Errorf("exportFile wants an ExportCommand, got %T", e.Payload)
		}
		return fileio.ExportName(cmd.Format, time.Now()), fileio.Export(s.ed.Features(), cmd.Format, cmd.To, s.ed.maps)
	})
}
