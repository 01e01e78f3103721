package main

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"image/png"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/railvision/wagon-capture/internal/capture"
	"github.com/railvision/wagon-capture/internal/detect"
	"github.com/railvision/wagon-capture/internal/jobs"
	"github.com/railvision/wagon-capture/internal/server"
	"github.com/railvision/wagon-capture/pkg/types"
)

func TestShutdownStopsJobsBeforeHTTP(t *testing.T) {
	input := t.TempDir()
	for i := range 3 {
		f, err := os.Create(filepath.Join(input, fmt.Sprintf("f%d.png", i)))
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, image.NewRGBA(image.Rect(0, 0, 16, 12))))
		require.NoError(t, f.Close())
	}

	// blocks until its run is cancelled
	blocking := detect.DetectorFunc(func(ctx context.Context, _ *types.Frame) ([]types.Detection, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	ex, err := capture.NewExtractor(capture.DefaultConfig(), blocking, nil)
	require.NoError(t, err)
	mgr := jobs.NewManager(jobs.DefaultConfig(), ex, nil, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	httpServer := &http.Server{Handler: server.New(server.Options{}, mgr, nil, nil).Handler()}
	go func() { _ = httpServer.Serve(ln) }()

	job, err := mgr.Submit(jobs.Request{VideoPath: input})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		j, err := mgr.Get(job.ID)
		return err == nil && j.Status == jobs.StatusProgress
	}, 5*time.Second, 5*time.Millisecond)

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/jobs/" + job.ID + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "data: "), "stream is open")

	start := time.Now()
	require.NoError(t, shutdown(httpServer, mgr, 3*time.Second))
	assert.Less(t, time.Since(start), 3*time.Second)

	j, err := mgr.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailure, j.Status, "running job is finished before shutdown returns")
}
