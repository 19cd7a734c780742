package main

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cbegin/sonify-go"
)

// command is one parsed script line.
type command struct {
	line int
	name string
	args []float64
}

// minArgs is the argument count each command needs. Commands taking a
// pitch list accept any number beyond the minimum.
var minArgs = map[string]int{
	"note":   4, // ch dur gain pitch
	"chord":  4, // ch dur gain pitch...
	"play":   4, // ch dur gain pitch...
	"drum":   2, // ch gain
	"melody": 3, // ch gain pitch
	"hush":   1, // ch
	"tempo":  1, // percent
	"gain":   1, // max gain
	"clear":  0,
	"wait":   1, // seconds
}

var variadic = map[string]bool{"chord": true, "play": true}

// parseScript reads commands, one per line. Blank lines and lines starting
// with '#' are skipped.
func parseScript(r io.Reader) ([]command, error) {
	var cmds []command
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		cmd, ok, err := parseLine(sc.Text())
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		if ok {
			cmd.line = n
			cmds = append(cmds, cmd)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return cmds, nil
}

func parseLine(line string) (command, bool, error) {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, false, nil
	}
	name := strings.ToLower(fields[0])
	want, known := minArgs[name]
	if !known {
		return command{}, false, fmt.Errorf("unknown command %q", fields[0])
	}
	got := len(fields) - 1
	if got < want || (!variadic[name] && got > want) {
		return command{}, false, fmt.Errorf("%s takes %d arguments, got %d", name, want, got)
	}
	args := make([]float64, got)
	for i, f := range fields[1:] {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return command{}, false, fmt.Errorf("%s: bad number %q", name, f)
		}
		args[i] = v
	}
	if want > 0 && name != "tempo" && name != "gain" && name != "wait" {
		if args[0] != math.Trunc(args[0]) || args[0] < 0 {
			return command{}, false, fmt.Errorf("%s: channel must be a non-negative integer, got %v", name, args[0])
		}
	}
	return command{name: name, args: args}, true, nil
}

// runner executes commands against a session. wait blocks or advances the
// clock, depending on whether playback is live or offline.
type runner struct {
	session *sonify.Session
	wait    func(time.Duration)
}

func (r *runner) run(cmds []command) {
	for _, c := range cmds {
		r.exec(c)
	}
}

func (r *runner) exec(c command) {
	s := r.session
	a := c.args
	switch c.name {
	case "note":
		s.PlayNote(sonify.Channel(a[0]), 0, a[3], a[1], a[2])
	case "chord":
		s.PlayChord(sonify.Channel(a[0]), 0, a[3:], a[1], a[2])
	case "play":
		if len(a) == 4 {
			s.AddNoteToQueue(sonify.Channel(a[0]), a[3], a[1], a[2])
		} else {
			s.AddChordToQueue(sonify.Channel(a[0]), a[3:], a[1], a[2])
		}
	case "drum":
		s.PlayDrum(sonify.Channel(a[0]), 0, a[1])
	case "melody":
		s.PlayMelody(sonify.Channel(a[0]), a[2], a[1])
	case "hush":
		s.StopMelody(sonify.Channel(a[0]))
	case "tempo":
		s.SetTempo(a[0])
	case "gain":
		s.SetMaxGain(a[0])
	case "clear":
		s.ClearQueue()
	case "wait":
		if a[0] > 0 {
			r.wait(time.Duration(a[0] * float64(time.Second)))
		}
	}
}
