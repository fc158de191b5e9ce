package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"trigno-driver/controller"
	"trigno-driver/utils"
	"trigno-driver/views"
)

var (
	csvStream      string
	streamDuration time.Duration
)

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Acquire EMG and accelerometer samples until stopped",
	Long: "stream connects, starts sampling and drains both sample queues until\n" +
		"Ctrl+C, the optional --duration, or the device going idle.",
	Args: cobra.NoArgs,
	RunE: runStream,
}

func init() {
	streamCmd.Flags().StringVar(&csvStream, "csv", "", "write drained samples of one stream (emg or accelerometer) to stdout as CSV")
	streamCmd.Flags().DurationVar(&streamDuration, "duration", 0, "stop after this long (0 = until interrupted or idle)")
	rootCmd.AddCommand(streamCmd)
}

func runStream(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var csvType views.RecordType
	switch csvStream {
	case "":
	case "emg":
		csvType = views.RecordEMG
	case "accelerometer", "acc":
		csvType = views.RecordAccelerometer
	default:
		return fmt.Errorf("--csv: unknown stream %q", csvStream)
	}

	logger := initLogger(cfg)
	defer logger.Close()

	reg := prometheus.NewRegistry()
	driver, err := controller.NewDriver(cfg, controller.WithLogger(logger), controller.WithMetrics(reg))
	if err != nil {
		return err
	}

	var out *views.CSVWriter
	if csvStream != "" {
		out, err = views.NewCSVStream(os.Stdout, 0, true, views.SchemaColumns(csvType))
		if err != nil {
			return err
		}
		defer out.Close()
	}

	// ── Context with OS signal cancellation ──────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if streamDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, streamDuration)
		defer cancel()
		utils.L().Info("acquisition will auto-stop after %v", streamDuration)
	}

	if err := driver.Connect(""); err != nil {
		return err
	}
	if err := driver.BeginSampling(); err != nil {
		_ = driver.Disconnect()
		return err
	}
	utils.L().Info("session %s started %s, press Ctrl+C to stop",
		driver.SessionID(), utils.FormatStamp(time.Now().UnixNano()))

	drainTicker := time.NewTicker(cfg.ReadTimeout())
	defer drainTicker.Stop()
	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var emgDrained, accDrained uint64
	drain := func() {
		for driver.NumberOfEMGSamples() > 0 {
			s := driver.GetEMGSample()
			emgDrained++
			if out != nil && csvType == views.RecordEMG {
				out.WriteRecord(&s)
			}
		}
		for driver.NumberOfAccelerometerSamples() > 0 {
			s := driver.GetAccelerometerSample()
			accDrained++
			if out != nil && csvType == views.RecordAccelerometer {
				out.WriteRecord(&s)
			}
		}
		if out != nil {
			if err := out.Flush(); err != nil {
				utils.L().Warn("csv output: %v", err)
			}
		}
	}

	// ── Main event loop ──────────────────────────────────────────────
loop:
	for {
		select {
		case <-ctx.Done():
			utils.L().Info("shutting down…")
			break loop

		case <-drainTicker.C:
			drain()
			if driver.IsDone() {
				utils.L().Info("device went idle, session done")
				break loop
			}

		case <-statsTicker.C:
			st := driver.Stats()
			utils.L().Info("── stats ─────────────────────────")
			utils.L().Info("  emg:           frames=%d read_errors=%d drained=%d", st.EMGFrames, st.EMGReadErrors, emgDrained)
			utils.L().Info("  accelerometer: frames=%d read_errors=%d drained=%d", st.AccFrames, st.AccReadErrors, accDrained)
			utils.L().Info("  estimated buffered time: %d ms", driver.SamplingTimeEstimateMs())
			utils.L().Info("──────────────────────────────────")
		}
	}

	stopErr := driver.StopSampling()
	utils.L().Info("draining queues…")
	time.Sleep(cfg.ReadTimeout())
	drain()
	discErr := driver.Disconnect()

	if driver.IsDegraded() {
		utils.L().Warn("a data socket was lost during the session: %v", driver.LastError())
	}
	utils.L().Info("samples drained: emg=%d accelerometer=%d", emgDrained, accDrained)

	if err := dumpMetrics(reg); err != nil {
		utils.L().Warn("metrics: %v", err)
	}
	if stopErr != nil {
		return stopErr
	}
	return discErr
}

// dumpMetrics prints every gathered family in text exposition format.
func dumpMetrics(reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(os.Stderr, mf); err != nil {
			return err
		}
	}
	return nil
}
