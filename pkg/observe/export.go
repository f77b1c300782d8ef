package observe

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/ccinv/ccinv/pkg/archive"
	"github.com/ccinv/ccinv/pkg/intent"
	"github.com/ccinv/ccinv/pkg/remote"
	"github.com/ccinv/ccinv/pkg/task"
	"github.com/ccinv/ccinv/pkg/util"
)

// operationEnum maps a declared export kind to the controller's enum.
func operationEnum(kind string) string {
	if kind == intent.ExportCredentials {
		return "CREDENTIALDETAILS"
	}
	return "DEVICEDETAILS"
}

// ExportBatch is one export request.
type ExportBatch struct {
	DeviceIDs []string
	Kind      string
	Password  string
	Columns   []string
	// KeyBits is the archive cipher used when an entry carries no marker.
	KeyBits int
}

// ExportResult is the decoded content of one batch.
type ExportResult struct {
	Table    *archive.Table
	FileName string
}

// Exporter runs the export, wait, download and decode sequence.
type Exporter struct {
	client remote.Client
	poller *task.Poller
}

// NewExporter creates an exporter.
func NewExporter(client remote.Client, poller *task.Poller) *Exporter {
	return &Exporter{client: client, poller: poller}
}

// Export exports one batch of devices.
func (e *Exporter) Export(ctx context.Context, b ExportBatch) (*ExportResult, error) {
	payload := map[string]any{
		"deviceUuids":   b.DeviceIDs,
		"operationEnum": operationEnum(b.Kind),
	}
	if b.Password != "" {
		payload["password"] = b.Password
	}
	if len(b.Columns) > 0 {
		payload["parameters"] = b.Columns
	}

	d, err := e.poller.Submit(ctx, remote.ExportDeviceList, remote.Params{remote.PayloadKey: payload},
		task.AdditionalStatusURLPresent())
	if err != nil {
		return nil, fmt.Errorf("exporting %d devices: %w", len(b.DeviceIDs), err)
	}
	fileID := path.Base(strings.TrimRight(d.AdditionalStatusURL, "/"))
	if fileID == "" || fileID == "." || fileID == "/" {
		return nil, fmt.Errorf("export task %s carries no file reference", d.ID)
	}

	resp, err := remote.Call(ctx, e.client, remote.DownloadFile, remote.Params{"file_id": fileID})
	if err != nil {
		return nil, fmt.Errorf("downloading export file %s: %w", fileID, err)
	}
	if resp.File == nil {
		return nil, fmt.Errorf("export file %s: empty download", fileID)
	}
	util.WithField("file", resp.File.Name).Debugf("downloaded export (%d bytes)", len(resp.File.Data))

	password := b.Password
	if b.Kind != intent.ExportCredentials {
		password = ""
	}
	table, err := archive.ReadExport(resp.File.Data, password, b.KeyBits)
	if err != nil {
		return nil, fmt.Errorf("decoding export file %s: %w", resp.File.Name, err)
	}
	return &ExportResult{Table: table, FileName: resp.File.Name}, nil
}
