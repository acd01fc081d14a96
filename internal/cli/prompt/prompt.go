// Package prompt wraps promptui for the interactive parts of the CLI.
package prompt

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/manifoldco/promptui"
)

// ErrAborted is returned when the user aborts a prompt (Ctrl+C).
var ErrAborted = errors.New("aborted")

// IsAborted reports whether err means the user aborted.
func IsAborted(err error) bool {
	return errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) || errors.Is(err, ErrAborted)
}

func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if IsAborted(err) {
		return ErrAborted
	}
	return err
}

// Input prompts for text, returning defaultValue on an empty answer.
func Input(label, defaultValue string) (string, error) {
	return InputWithValidation(label, defaultValue, nil)
}

// InputWithValidation prompts for text accepted by validate.
func InputWithValidation(label, defaultValue string, validate func(string) error) (string, error) {
	p := promptui.Prompt{
		Label:     label,
		Default:   defaultValue,
		AllowEdit: defaultValue != "",
		Validate:  validate,
	}
	result, err := p.Run()
	return result, wrapError(err)
}

// InputInt prompts for an integer in [lo, hi].
func InputInt(label string, defaultValue, lo, hi int) (int, error) {
	s, err := InputWithValidation(label, strconv.Itoa(defaultValue), func(s string) error {
		return validateRange(s, lo, hi)
	})
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(s)
}

func validateRange(s string, lo, hi int) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return errors.New("enter a number")
	}
	if n < lo || n > hi {
		return fmt.Errorf("enter a number between %d and %d", lo, hi)
	}
	return nil
}

// Confirm asks a yes/no question.
func Confirm(label string, defaultYes bool) (bool, error) {
	def := "n"
	if defaultYes {
		def = "y"
	}
	p := promptui.Prompt{Label: label, IsConfirm: true, Default: def}

	_, err := p.Run()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, promptui.ErrAbort):
		return false, nil
	default:
		return false, wrapError(err)
	}
}

// Option is an entry of a Select prompt.
type Option struct {
	Label       string
	Value       string
	Description string
}

// Select prompts for one of options and returns its Value.
func Select(label string, options []Option) (string, error) {
	templates := &promptui.SelectTemplates{
		Label:    "{{ . }}",
		Active:   "> {{ .Label | cyan }}",
		Inactive: "  {{ .Label }}",
		Selected: "* {{ .Label | green }}",
		Details:  `{{ .Description | faint }}`,
	}

	p := promptui.Select{
		Label:     label,
		Items:     options,
		Templates: templates,
		Size:      len(options),
	}
	i, _, err := p.Run()
	if err != nil {
		return "", wrapError(err)
	}
	return options[i].Value, nil
}
