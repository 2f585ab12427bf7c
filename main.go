// Package main provides the entry point for the Sonoria CLI: it streams
// text from a file or stdin, splits it into sentences as chunks arrive,
// synthesizes each sentence, and plays the clips back in order.
package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Kratos0080/Sonoria-sub001/internal/audio"
	"github.com/Kratos0080/Sonoria-sub001/internal/cache"
	"github.com/Kratos0080/Sonoria-sub001/speech"
	"github.com/Kratos0080/Sonoria-sub001/speech/playback"
	"github.com/Kratos0080/Sonoria-sub001/speech/queue"
	"github.com/Kratos0080/Sonoria-sub001/speech/sentence"
	"github.com/Kratos0080/Sonoria-sub001/speech/synth"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile  string
	voice       string
	format      string
	speed       float64
	endpoint    string
	useMock     bool
	noCache     bool
	follow      bool
	startPaused bool
	debug       bool

	rootCmd = &cobra.Command{
		Use:   "sonoria [SOURCE]",
		Short: "Stream text to speech, sentence by sentence",
		Long: "\nSonoria reads text from a file or stdin, extracts sentences as the\n" +
			"text arrives, synthesizes them, and plays the audio back in order.",
		SilenceErrors: false,
		SilenceUsage:  true,
		Args:          cobra.MaximumNArgs(1),
		RunE:          execute,
	}
)

// envConfig holds settings read from the environment. Flags and config file
// values take precedence when set.
type envConfig struct {
	Endpoint string `env:"SONORIA_ENDPOINT"`
	APIKey   string `env:"SONORIA_API_KEY"`
	LogFile  string `env:"SONORIA_LOGFILE"`
	Debug    bool   `env:"SONORIA_DEBUG"`
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default "+viper.GetViper().ConfigFileUsed()+")")
	rootCmd.Flags().StringVar(&voice, "voice", "default", "voice identifier for synthesis")
	rootCmd.Flags().StringVar(&format, "format", "pcm", "audio format requested from the synthesizer")
	rootCmd.Flags().Float64Var(&speed, "speed", 1.0, "speech speed multiplier")
	rootCmd.Flags().StringVar(&endpoint, "endpoint", "", "synthesis service URL")
	rootCmd.Flags().BoolVar(&useMock, "mock", false, "use the mock synthesizer and a silent audio backend")
	rootCmd.Flags().BoolVar(&noCache, "no-cache", false, "disable the clip cache")
	rootCmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep reading the source file as it grows")
	rootCmd.Flags().BoolVar(&startPaused, "start-paused", false, "queue audio but wait for Enter before playing")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "debug logging")

	_ = viper.BindPFlag("voice", rootCmd.Flags().Lookup("voice"))
	_ = viper.BindPFlag("format", rootCmd.Flags().Lookup("format"))
	_ = viper.BindPFlag("speed", rootCmd.Flags().Lookup("speed"))
	_ = viper.BindPFlag("endpoint", rootCmd.Flags().Lookup("endpoint"))
	_ = viper.BindPFlag("debug", rootCmd.Flags().Lookup("debug"))

	viper.SetDefault("voice", "default")
	viper.SetDefault("format", "pcm")
	viper.SetDefault("speed", 1.0)
	viper.SetDefault("cache.dir", "")
	viper.SetDefault("cache.memory_mb", 32)
	viper.SetDefault("cache.max_age_days", 30)

	rootCmd.AddCommand(configCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "sonoria")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not find the configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "sonoria")}, dirs...)
	}
	if c := os.Getenv("SONORIA_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("sonoria")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("sonoria")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Missing config file is fine; anything else is worth a warning.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("could not parse config file", "error", err)
		}
	}
}

// setupLog routes logs to SONORIA_LOGFILE when set, otherwise to stderr.
func setupLog() (func() error, error) {
	cfg, err := env.ParseAs[envConfig]()
	if err != nil {
		return nil, fmt.Errorf("error parsing environment: %w", err)
	}

	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("error opening log file: %w", err)
		}
		log.SetOutput(f)
		log.SetReportTimestamp(true)
		return f.Close, nil
	}

	log.SetOutput(os.Stderr)
	return func() error { return nil }, nil
}

// defaultCacheDir resolves the clip cache directory from config or the
// platform cache location.
func defaultCacheDir() string {
	if dir := viper.GetString("cache.dir"); dir != "" {
		return dir
	}
	scope := gap.NewScope(gap.User, "sonoria")
	dir, err := scope.CacheDir()
	if err != nil {
		log.Warn("could not resolve cache directory, caching to temp", "error", err)
		return filepath.Join(os.TempDir(), "sonoria-cache")
	}
	return filepath.Join(dir, "clips")
}

func execute(cmd *cobra.Command, args []string) error {
	if debug || viper.GetBool("debug") {
		log.SetLevel(log.DebugLevel)
	}

	logger := log.Default()
	envCfg, err := env.ParseAs[envConfig]()
	if err != nil {
		return fmt.Errorf("error parsing environment: %w", err)
	}

	// Source: a file path, "-", or nothing for stdin.
	var (
		reader     io.Reader
		sourcePath string
	)
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening source: %w", err)
		}
		defer f.Close() //nolint:errcheck
		reader = f
		sourcePath = args[0]
	} else {
		reader = os.Stdin
	}
	if follow && sourcePath == "" {
		return fmt.Errorf("--follow requires a file source")
	}

	// Synthesizer: HTTP with mock fallback, or mock only.
	synthesizer, err := buildSynthesizer(envCfg, logger)
	if err != nil {
		return err
	}

	// Clip cache.
	var clipCache *cache.Tiered
	if !noCache {
		clipCache, err = cache.NewTiered(cache.TieredConfig{
			DiskDir:    defaultCacheDir(),
			DiskMaxAge: time.Duration(viper.GetInt("cache.max_age_days")) * 24 * time.Hour,
			Logger:     logger,
		})
		if err != nil {
			log.Warn("clip cache unavailable, continuing without", "error", err)
			clipCache = nil
		} else {
			defer clipCache.Close()
		}
	}

	// Audio backend.
	var backend speech.Backend
	if useMock {
		backend = newAutoFinishBackend()
	} else {
		backend, err = audio.NewOtoBackend(logger)
		if err != nil {
			return fmt.Errorf("initializing audio: %w", err)
		}
	}

	return runPipeline(cmd, reader, sourcePath, synthesizer, clipCache, backend, logger)
}

func buildSynthesizer(envCfg envConfig, logger *log.Logger) (speech.Synthesizer, error) {
	if useMock {
		return synth.NewMock(), nil
	}

	url := endpoint
	if url == "" {
		url = viper.GetString("endpoint")
	}
	if url == "" {
		url = envCfg.Endpoint
	}
	if url == "" {
		return nil, fmt.Errorf("no synthesis endpoint configured (use --endpoint, config, or SONORIA_ENDPOINT)")
	}

	httpSynth, err := synth.NewHTTPService(synth.HTTPConfig{
		Endpoint: url,
		APIKey:   envCfg.APIKey,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	// A dead service degrades to silence-with-progress rather than a stall.
	return synth.NewFallback(httpSynth, synth.NewMock(), logger)
}

// runPipeline wires extractor, queue, and playback together and feeds the
// source through them.
func runPipeline(cmd *cobra.Command, reader io.Reader, sourcePath string,
	synthesizer speech.Synthesizer, clipCache *cache.Tiered, backend speech.Backend,
	logger *log.Logger,
) error {
	messageID := uuid.NewString()

	manager, err := playback.NewManager(playback.Config{
		Backend: backend,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	defer manager.Close()

	// sessionDone fires once this message finishes, stops, or errors out.
	sessionDone := make(chan struct{})
	manager.Subscribe(speech.ObserverFunc(func(ev speech.PlaybackEvent) {
		if ev.MessageID != messageID {
			return
		}
		switch ev.Type {
		case speech.EventPlaybackCompleted, speech.EventPlaybackStopped:
			select {
			case <-sessionDone:
			default:
				close(sessionDone)
			}
		case speech.EventAutoplayBlocked:
			fmt.Fprintln(cmd.OutOrStdout(), "Audio queued. Press Enter to start playback.")
		case speech.EventPlaybackError:
			log.Error("playback error", "seq", ev.Sequence, "error", ev.Err)
		}
	}))

	var clipCacheIface speech.ClipCache
	if clipCache != nil {
		clipCacheIface = clipCache
	}

	opts := speech.SynthesisOptions{
		Voice:  viper.GetString("voice"),
		Format: viper.GetString("format"),
		Speed:  viper.GetFloat64("speed"),
	}

	// settled counts clips that reached a terminal state (emitted or
	// failed) so the driver knows when synthesis has drained.
	var settled atomic.Int64
	q, err := queue.New(queue.Config{
		Synthesizer: synthesizer,
		Cache:       clipCacheIface,
		Options:     opts,
		Logger:      logger,
		Callbacks: queue.Callbacks{
			SentenceGenerated: func(clip speech.Clip) {
				if err := manager.SubmitClip(clip, true); err != nil {
					log.Error("clip rejected", "seq", clip.Sequence, "error", err)
				}
				settled.Add(1)
			},
			Error: func(msgID, text string, err error) {
				log.Warn("sentence skipped", "message", msgID, "error", err)
				settled.Add(1)
			},
		},
	})
	if err != nil {
		return err
	}
	defer q.Close()

	if !startPaused {
		manager.ArmGesture()
	}

	// Feed the source through the extractor.
	extractor := sentence.NewExtractor(logger)
	enqueued := 0
	first := true
	feed := func(chunk string) {
		for _, ev := range extractor.ProcessChunk(chunk) {
			q.Enqueue(ev.Text, messageID, first)
			first = false
			enqueued++
		}
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	if err := streamSource(reader, sourcePath, feed, interrupt); err != nil {
		return err
	}

	if ev, ok := extractor.Finalize(); ok {
		q.Enqueue(ev.Text, messageID, first)
		enqueued++
	}
	if enqueued == 0 {
		log.Info("no sentences found in source")
		return nil
	}
	logger.Debug("source drained", "sentences", enqueued)

	// Wait for every sentence to settle, then tell playback no more clips
	// are coming.
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for settled.Load() < int64(enqueued) {
		select {
		case <-ticker.C:
		case <-interrupt:
			manager.ClearMessage(messageID)
			return nil
		}
	}

	if startPaused {
		waitForEnter(cmd)
		manager.ArmGesture()
		if err := manager.StartPlaybackForMessage(messageID); err != nil {
			log.Error("could not start playback", "error", err)
		}
	}
	manager.FinishMessage(messageID)

	select {
	case <-sessionDone:
	case <-interrupt:
		manager.ClearMessage(messageID)
	}

	stats := q.GetStats()
	logger.Debug("session finished",
		"enqueued", stats.Enqueued, "synthesized", stats.Synthesized,
		"cache_hits", stats.CacheHits, "errors", stats.Errors)
	return nil
}

// streamSource reads the source in small chunks so sentence extraction and
// synthesis overlap with the read. With --follow it keeps tailing the file
// until interrupted.
func streamSource(reader io.Reader, sourcePath string, feed func(string), interrupt <-chan os.Signal) error {
	buf := make([]byte, 4096)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			feed(string(buf[:n]))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading source: %w", err)
		}
	}

	if !follow {
		return nil
	}
	return followSource(sourcePath, feed, interrupt)
}

// followSource tails the file with fsnotify, feeding appended bytes as
// chunks. Returns when interrupted or the file disappears.
func followSource(path string, feed func(string), interrupt <-chan os.Signal) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close() //nolint:errcheck

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watching %s: %w", path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	offset := info.Size()

	log.Info("following source", "path", path)
	abs, _ := filepath.Abs(path)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			evAbs, _ := filepath.Abs(event.Name)
			if evAbs != abs || !event.Has(fsnotify.Write) {
				continue
			}
			offset = feedAppended(path, offset, feed)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch error", "error", err)
		case <-interrupt:
			return nil
		}
	}
}

// feedAppended reads from offset to EOF and returns the new offset. A file
// that shrank was truncated; start over from the beginning.
func feedAppended(path string, offset int64, feed func(string)) int64 {
	f, err := os.Open(path)
	if err != nil {
		log.Warn("source vanished", "path", path, "error", err)
		return offset
	}
	defer f.Close() //nolint:errcheck

	info, err := f.Stat()
	if err != nil {
		return offset
	}
	if info.Size() < offset {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return offset
	}
	data, err := io.ReadAll(f)
	if err != nil {
		log.Warn("reading appended data", "error", err)
		return offset
	}
	if len(data) > 0 {
		feed(string(data))
	}
	return offset + int64(len(data))
}

func waitForEnter(cmd *cobra.Command) {
	fmt.Fprintln(cmd.OutOrStdout(), "Press Enter to start playback...")
	var discard string
	_, _ = fmt.Fscanln(cmd.InOrStdin(), &discard)
}

// newAutoFinishBackend returns a mock backend that completes each clip
// shortly after Play, so --mock runs end to end without an audio device.
func newAutoFinishBackend() speech.Backend {
	backend := audio.NewMockBackend()
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			backend.FinishCurrent()
		}
	}()
	return backend
}
