package cli

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/fagdag/internal/core/domain"
)

func TestIngestCmd_UsesDirArgument(t *testing.T) {
	ts := setupTestServices(t)

	out, err := execute(t, "", "ingest", "./docs")

	require.NoError(t, err)
	assert.Equal(t, 1, ts.ingest.ingestCalls)
	assert.Equal(t, "content:./docs", ts.ingest.lastSource.Name())
	assert.Contains(t, out, "Ingesting from content:./docs...")
	assert.Contains(t, out, "Run run-1 on index fagdag: success")
	assert.Contains(t, out, "Documents: 2 processed, 0 skipped, 0 failed")
	assert.Contains(t, out, "Took 1.5s")
}

func TestIngestCmd_ErrorStillPrintsReport(t *testing.T) {
	ts := setupTestServices(t)
	ts.ingest.ingestErr = errors.New("index unreachable")

	out, err := execute(t, "", "ingest")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "ingest failed: index unreachable")
	assert.Contains(t, out, "Run run-1")
	assert.Equal(t, "content:", ts.ingest.lastSource.Name())
}

func TestPrintReport_StagesWarningsAndFailures(t *testing.T) {
	r := testReport()
	r.Warnings = []string{"pii model unavailable, using patterns"}
	for i := range maxListedFailures + 2 {
		r.FailedItems = append(r.FailedItems, domain.ItemError{
			DocumentID: fmt.Sprintf("doc-%d", i),
			Stage:      domain.StageEmbed,
			Err:        errors.New("timeout"),
		})
	}

	buf := new(bytes.Buffer)
	cmd := &cobra.Command{}
	cmd.SetOut(buf)
	printReport(cmd, r)

	out := buf.String()
	assert.Contains(t, out, "chunk:    3 processed")
	assert.Contains(t, out, "upsert:   3 processed")
	assert.Contains(t, out, "Warning: pii model unavailable, using patterns")
	assert.Contains(t, out, fmt.Sprintf("Failed items (%d):", maxListedFailures+2))
	assert.Contains(t, out, "... and 2 more")
}
