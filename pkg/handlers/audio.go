package handlers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/tinyland-inc/hostbridge/pkg/daemon"
	"github.com/tinyland-inc/hostbridge/pkg/model"
	"github.com/tinyland-inc/hostbridge/pkg/pathmap"
)

// soundExtensions are tried in order when a sound is given by name.
var soundExtensions = []string{"", ".aiff", ".wav", ".mp3", ".ogg", ".oga"}

// Audio plays a sound file with afplay or paplay.
type Audio struct {
	Base
	soundsDir  string
	translator pathmap.Translator
}

// DefaultAudioCommand is "afplay" on macOS and "paplay" elsewhere.
func DefaultAudioCommand() string {
	if runtime.GOOS == "darwin" {
		return "afplay"
	}
	return "paplay"
}

// DefaultSoundsDir is where named sounds are looked up.
func DefaultSoundsDir() string {
	if runtime.GOOS == "darwin" {
		return "/System/Library/Sounds"
	}
	return "/usr/share/sounds/freedesktop/stereo"
}

// NewAudio returns an audio handler. Sounds given by name resolve under
// soundsDir; sounds given by path go through translator first.
func NewAudio(soundsDir string, translator pathmap.Translator, opts ...Option) *Audio {
	if soundsDir == "" {
		soundsDir = DefaultSoundsDir()
	}
	return &Audio{
		Base:       newBase(model.ServiceAudio, DefaultAudioCommand(), opts),
		soundsDir:  soundsDir,
		translator: translator,
	}
}

func (a *Audio) Handle(ctx context.Context, p model.Payload) (daemon.Result, error) {
	req, ok := p.(model.AudioPlay)
	if !ok {
		return a.unsupported(p)
	}
	if req.Volume < 0 || req.Volume > 1 {
		return daemon.Result{}, fmt.Errorf("volume must be between 0 and 1, got %g", req.Volume)
	}

	file, err := a.resolve(req.Sound)
	if err != nil {
		return daemon.Result{}, err
	}
	if _, err := a.run(ctx, a.args(file, req.Volume)...); err != nil {
		return daemon.Result{}, err
	}
	return daemon.Result{Message: "played " + filepath.Base(file), Data: map[string]any{"file": file}}, nil
}

// resolve turns a sound name or path into an existing host file.
func (a *Audio) resolve(sound string) (string, error) {
	if strings.ContainsAny(sound, `/\`) {
		file := a.translator.Translate(sound)
		if !filepath.IsAbs(file) {
			return "", fmt.Errorf("sound path %q must be absolute", sound)
		}
		if _, err := os.Stat(file); err != nil {
			return "", fmt.Errorf("sound %q: %w", sound, err)
		}
		return file, nil
	}

	if err := model.ValidateID(sound); err != nil {
		return "", fmt.Errorf("invalid sound name: %w", err)
	}
	dir, err := filepath.Abs(a.soundsDir)
	if err != nil {
		return "", fmt.Errorf("sounds directory: %w", err)
	}
	for _, ext := range soundExtensions {
		file := filepath.Join(dir, sound+ext)
		if info, err := os.Stat(file); err == nil && !info.IsDir() {
			return file, nil
		}
	}
	return "", fmt.Errorf("sound %q not found in %s", sound, a.soundsDir)
}

// args builds the player command line. resolve only returns absolute
// paths, so the file can never be taken for an option; paplay also gets
// "--" since it accepts one. afplay does not.
func (a *Audio) args(file string, volume float64) []string {
	switch a.tool() {
	case "afplay":
		if volume > 0 {
			return []string{"-v", strconv.FormatFloat(volume, 'f', -1, 64), file}
		}
	case "paplay":
		if volume > 0 {
			return []string{"--volume=" + strconv.Itoa(int(volume*65536)), "--", file}
		}
		return []string{"--", file}
	}
	return []string{file}
}
