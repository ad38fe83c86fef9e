package cwidget

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"
)

type Input[T any] struct {
	widget.BaseWidget

	labelWidget *widget.Label
	entryWidget *widget.Entry
	errorWidget *widget.Label

	LabelText   string
	Placeholder string

	DefaultValue T

	OnChanged   func(T)
	OnSubmitted func(T)

	Validator func(string) (T, error)
}

func newInput[T any](label, placeholder string, defaultValue T) *Input[T] {
	input := &Input[T]{
		LabelText:    label,
		Placeholder:  placeholder,
		DefaultValue: defaultValue,
	}

	input.labelWidget = widget.NewLabel(label)
	input.labelWidget.TextStyle = fyne.TextStyle{Bold: true}

	input.entryWidget = widget.NewEntry()
	input.entryWidget.SetPlaceHolder(placeholder)

	input.errorWidget = widget.NewLabel("")
	input.errorWidget.Hidden = true
	input.errorWidget.TextStyle = fyne.TextStyle{Italic: true}
	input.errorWidget.Importance = widget.DangerImportance

	return input
}

// NewIntInput is a settings field that accepts positive integers as they
// are typed.
func NewIntInput(label, placeholder string, defaultValue int, onChanged func(int)) *Input[int] {
	input := newInput(label, placeholder, defaultValue)
	input.OnChanged = onChanged
	input.labelWidget.SetText(fmt.Sprintf("%s: %d", label, defaultValue))

	input.Validator = func(s string) (res int, err error) {
		if s == "" {
			return input.DefaultValue, nil
		}

		res, err = strconv.Atoi(s)
		if err != nil {
			return input.DefaultValue, errors.New("not a number")
		}

		if res <= 0 {
			return input.DefaultValue, errors.New("must be positive")
		}

		return
	}

	input.entryWidget.OnChanged = func(s string) {
		res, err := input.Validator(s)
		input.SetError(err)

		if err == nil && input.OnChanged != nil {
			input.OnChanged(res)
			input.labelWidget.SetText(fmt.Sprintf("%s: %d", label, res))
		}
	}

	input.ExtendBaseWidget(input)

	return input
}

// NewDeltaInput is committed with Enter. Integer text is passed to onSubmitted
// and the field cleared; anything else is left in place without complaint.
func NewDeltaInput(label, placeholder string, onSubmitted func(int)) *Input[int] {
	input := newInput(label, placeholder, 0)
	input.OnSubmitted = onSubmitted

	input.Validator = func(s string) (int, error) {
		return strconv.Atoi(strings.TrimSpace(s))
	}

	input.entryWidget.OnSubmitted = func(s string) {
		input.Submit(s)
	}

	input.ExtendBaseWidget(input)

	return input
}

// Submit applies text as if it was entered and confirmed. It reports whether
// the text was accepted.
func (item *Input[T]) Submit(text string) bool {
	res, err := item.Validator(text)
	if err != nil {
		return false
	}

	if item.OnSubmitted != nil {
		item.OnSubmitted(res)
	}
	item.entryWidget.SetText("")

	return true
}

func (item *Input[T]) CreateRenderer() fyne.WidgetRenderer {
	c := container.NewVBox(
		item.labelWidget,
		item.entryWidget,
		item.errorWidget,
	)

	return widget.NewSimpleRenderer(c)
}

func (item *Input[T]) SetError(err error) {
	item.errorWidget.Hidden = err == nil
	if err != nil {
		item.errorWidget.SetText(err.Error())
	}
}

func (item *Input[T]) SetText(text string) {
	item.entryWidget.SetText(text)
}

func (item *Input[T]) Text() string {
	return item.entryWidget.Text
}
