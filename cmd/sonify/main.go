package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/cbegin/sonify-go"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML session config")
		engineName = flag.String("engine", "", "instrument engine: wavetable|soundfont|midi")
		drumEngine = flag.String("drum-engine", "", "drum engine, if different from -engine")
		soundFont  = flag.String("soundfont", "", "path to an .sf2 file")
		midiPort   = flag.String("midi-port", "", "MIDI output port name (substring match)")
		output     = flag.String("output", "", "audio output: ebiten|oto|none")
		tempo      = flag.Float64("tempo", 0, "tempo percent (40 = durations x0.4)")
		maxGain    = flag.Float64("max-gain", -1, "gain ceiling in [0,1]")
		scriptPath = flag.String("file", "", "command script (default stdin)")
		wavPath    = flag.String("wav", "", "render offline to this WAV file instead of playing")
		tail       = flag.Float64("seconds", 2, "seconds to keep playing after the script ends")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := sonify.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = sonify.LoadConfig(*configPath); err != nil {
			fatal(logger, err)
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "engine":
			cfg.Engine = sonify.EngineKind(*engineName)
		case "drum-engine":
			cfg.DrumEngine = sonify.EngineKind(*drumEngine)
		case "soundfont":
			cfg.SoundFont = *soundFont
		case "midi-port":
			cfg.MIDIPort = *midiPort
		case "output":
			cfg.Output = sonify.OutputKind(*output)
		case "tempo":
			cfg.Tempo = *tempo
		case "max-gain":
			cfg.MaxGain = *maxGain
		}
	})
	if err := cfg.Validate(); err != nil {
		fatal(logger, err)
	}

	cmds, err := readScript(*scriptPath)
	if err != nil {
		fatal(logger, err)
	}
	opts, err := cfg.Options()
	if err != nil {
		fatal(logger, err)
	}
	opts = append(opts, sonify.WithLogger(logger))
	tailDur := time.Duration(*tail * float64(time.Second))

	if *wavPath != "" {
		if err := renderWAV(cfg, opts, cmds, tailDur, *wavPath, logger); err != nil {
			fatal(logger, err)
		}
		return
	}
	if err := playLive(cfg, opts, cmds, tailDur); err != nil {
		fatal(logger, err)
	}
}

func readScript(path string) ([]command, error) {
	var r io.Reader = os.Stdin
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	return parseScript(r)
}

func playLive(cfg *sonify.Config, opts []sonify.Option, cmds []command, tail time.Duration) error {
	s, err := sonify.NewSession(cfg.SampleRate, opts...)
	if err != nil {
		return err
	}
	defer s.Close()
	cfg.Bind(s)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.WaitReady(ctx); err != nil {
		return fmt.Errorf("waiting for instruments: %w", err)
	}
	if err := s.Start(); err != nil {
		return err
	}
	(&runner{session: s, wait: time.Sleep}).run(cmds)
	time.Sleep(tail)
	return s.Close()
}

func renderWAV(cfg *sonify.Config, opts []sonify.Option, cmds []command, tail time.Duration, path string, logger *slog.Logger) error {
	if cfg.Engine != sonify.EngineWavetable {
		logger.Info("offline rendering always uses the wavetable engine", "engine", string(cfg.Engine))
	}
	r, err := sonify.NewRenderer(cfg.SampleRate, opts...)
	if err != nil {
		return err
	}
	defer r.Close()
	s := r.Session()
	cfg.Bind(s)
	if err := s.WaitReady(context.Background()); err != nil {
		return err
	}
	if err := s.Start(); err != nil {
		return err
	}
	(&runner{session: s, wait: r.Advance}).run(cmds)
	r.Advance(tail)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := sonify.WriteWAV(w, r.Samples(), cfg.SampleRate, 2); err != nil {
		f.Close()
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	logger.Info("rendered", "path", path, "seconds", r.Elapsed().Seconds())
	return f.Close()
}

func fatal(logger *slog.Logger, err error) {
	logger.Error("sonify failed", "err", err)
	os.Exit(1)
}
