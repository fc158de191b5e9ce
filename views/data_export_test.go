package views

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trigno-driver/models"
)

func TestCSVStream_WritesHeaderAndRecords(t *testing.T) {
	var out bytes.Buffer
	w, err := NewCSVStream(&out, 0, true, SchemaColumns(RecordSession))
	require.NoError(t, err)

	w.WriteRecord(&models.SessionRecord{SessionID: "s1", Outcome: models.OutcomeStopped})
	require.NoError(t, w.Close())

	assert.Equal(t,
		"session_id,started_ns,duration_ms,emg_frames,acc_frames,outcome,stop_reply_ok\n"+
			"s1,0,0,0,0,stopped,false\n",
		out.String())
	assert.Equal(t, uint64(1), w.Rows())
}

func TestCSVWriter_TruncatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "timer.csv")
	require.NoError(t, os.WriteFile(path, []byte("old,content\n"), 0o644))

	w, err := NewCSVWriter(path, 16, false, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.WriteRow([]string{"a", "b"})
		}()
	}
	wg.Wait()
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "old")
	assert.Equal(t, 10, bytes.Count(data, []byte("a,b\n")))
}

func TestSchemaColumns(t *testing.T) {
	assert.Len(t, SchemaColumns(RecordEMG), models.EMGChannels)
	assert.Len(t, SchemaColumns(RecordAccelerometer), 3*models.AccChannels)
	assert.Nil(t, SchemaColumns(RecordType(9)))
	assert.Equal(t, "accelerometer", RecordAccelerometer.String())
	assert.Equal(t, "unknown", RecordType(9).String())
}
