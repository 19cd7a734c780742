package sonify

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	intwt "github.com/cbegin/sonify-go/internal/wavetable"
	"gopkg.in/yaml.v3"
)

// InstrumentBinding binds a GM program to an instrument channel.
type InstrumentBinding struct {
	Channel int `yaml:"channel"`
	Patch   int `yaml:"patch"`
}

// DrumBinding binds a GM percussion key to a drum channel.
type DrumBinding struct {
	Channel int `yaml:"channel"`
	Drum    int `yaml:"drum"`
}

// Config is the on-disk session description.
type Config struct {
	SampleRate  int                 `yaml:"sample_rate"`
	Engine      EngineKind          `yaml:"engine"`
	DrumEngine  EngineKind          `yaml:"drum_engine,omitempty"`
	Output      OutputKind          `yaml:"output"`
	SoundFont   string              `yaml:"soundfont,omitempty"`
	MIDIPort    string              `yaml:"midi_port,omitempty"`
	Tempo       float64             `yaml:"tempo"` // percent
	MaxGain     float64             `yaml:"max_gain"`
	Wavetables  map[int]string      `yaml:"wavetables,omitempty"` // program -> WAVB hex
	Instruments []InstrumentBinding `yaml:"instruments,omitempty"`
	Drums       []DrumBinding       `yaml:"drums,omitempty"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		SampleRate:  48000,
		Engine:      EngineWavetable,
		Output:      OutputEbiten,
		Tempo:       40,
		MaxGain:     0.75,
		Instruments: []InstrumentBinding{{Channel: 0, Patch: 0}},
	}
}

// LoadConfig reads a YAML config. Fields left out keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes YAML on top of DefaultConfig and validates the result.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("cannot decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields a session cannot start without.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	for _, k := range []EngineKind{c.Engine, c.DrumEngine} {
		switch k {
		case "", EngineWavetable, EngineSoundFont, EngineMIDI:
		default:
			return fmt.Errorf("%w %q", ErrUnknownEngine, k)
		}
	}
	if c.Engine == "" {
		return errors.New("engine is required")
	}
	switch c.Output {
	case OutputEbiten, OutputOto, OutputNone:
	default:
		return fmt.Errorf("%w %q", ErrUnknownOutput, c.Output)
	}
	if (c.Engine == EngineSoundFont || c.DrumEngine == EngineSoundFont) && c.SoundFont == "" {
		return errors.New("soundfont engine needs soundfont")
	}
	if (c.Engine == EngineMIDI || c.DrumEngine == EngineMIDI) && c.MIDIPort == "" {
		return errors.New("midi engine needs midi_port")
	}
	if !(c.Tempo > 0) {
		return fmt.Errorf("tempo must be positive, got %v", c.Tempo)
	}
	if c.MaxGain < 0 || c.MaxGain > 1 {
		return fmt.Errorf("max_gain must be within [0,1], got %v", c.MaxGain)
	}
	return nil
}

// Options converts the config into session options.
func (c *Config) Options() ([]Option, error) {
	opts := []Option{
		WithEngine(c.Engine),
		WithDrumEngine(c.DrumEngine),
		WithOutput(c.Output),
		WithSoundFont(c.SoundFont),
		WithMIDIPort(c.MIDIPort),
		WithTempo(c.Tempo),
		WithMaxGain(c.MaxGain),
	}
	if len(c.Wavetables) > 0 {
		tables := make(map[int][]float64, len(c.Wavetables))
		for program, hexData := range c.Wavetables {
			samples, err := intwt.ParseWAVB(hexData)
			if err != nil {
				return nil, fmt.Errorf("wavetable for program %d: %w", program, err)
			}
			tables[program] = samples
		}
		opts = append(opts, WithWavetables(tables))
	}
	return opts, nil
}

// Bind starts registering every configured instrument and drum binding.
func (c *Config) Bind(s *Session) {
	for _, b := range c.Instruments {
		s.RegisterInstrument(Channel(b.Channel), b.Patch, nil)
	}
	for _, b := range c.Drums {
		s.RegisterDrumKit(Channel(b.Channel), b.Drum, nil)
	}
}
