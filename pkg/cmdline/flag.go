// Copyright (c) 2019-2023, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package cmdline provides a small cobra flag registration helper so that
// command flags and their defaults are declared once, in one place, next
// to the variable they populate. Flags are not read from environment
// variables.
package cmdline

import (
	"fmt"
	"reflect"

	"github.com/spf13/cobra"
)

// Flag holds information about a command flag.
type Flag struct {
	ID           string
	Value        interface{}
	DefaultValue interface{}
	Name         string
	ShortHand    string
	Usage        string
	Hidden       bool
}

// FlagValTypeErr reports a flag registered with a Value of the wrong
// concrete type for its DefaultValue.
type FlagValTypeErr struct {
	name     string
	expected string
	found    string
}

func (e FlagValTypeErr) Error() string {
	return fmt.Sprintf("expected value of flag %q to be of type %s, but encountered %s instead", e.name, e.expected, e.found)
}

// CommandManager registers Flags against one or more cobra commands.
type CommandManager struct {
	flags map[string]*Flag
}

// NewCommandManager instantiates a CommandManager.
func NewCommandManager() *CommandManager {
	return &CommandManager{flags: make(map[string]*Flag)}
}

// RegisterFlagForCmd registers flag against every command in cmds.
func (m *CommandManager) RegisterFlagForCmd(flag *Flag, cmds ...*cobra.Command) error {
	for _, c := range cmds {
		if c == nil {
			return fmt.Errorf("nil command provided")
		}
	}
	if flag == nil {
		return fmt.Errorf("nil flag provided")
	}

	var err error
	switch flag.DefaultValue.(type) {
	case string:
		err = m.registerStringVar(flag, cmds)
	case bool:
		err = m.registerBoolVar(flag, cmds)
	case int:
		err = m.registerIntVar(flag, cmds)
	default:
		return fmt.Errorf("flag %s of type %T is not supported", flag.Name, flag.DefaultValue)
	}
	if err != nil {
		return err
	}

	m.flags[flag.ID] = flag
	return nil
}

func (m *CommandManager) setFlagOptions(flag *Flag, cmd *cobra.Command) {
	if flag.Hidden {
		cmd.Flags().MarkHidden(flag.Name) //nolint:errcheck
	}
}

func (m *CommandManager) registerStringVar(flag *Flag, cmds []*cobra.Command) error {
	for _, c := range cmds {
		val, ok := flag.Value.(*string)
		if !ok {
			return FlagValTypeErr{name: flag.Name, expected: "string", found: reflect.TypeOf(flag.Value).String()}
		}
		defaultVal, _ := flag.DefaultValue.(string)
		if flag.ShortHand != "" {
			c.Flags().StringVarP(val, flag.Name, flag.ShortHand, defaultVal, flag.Usage)
		} else {
			c.Flags().StringVar(val, flag.Name, defaultVal, flag.Usage)
		}
		m.setFlagOptions(flag, c)
	}
	return nil
}

func (m *CommandManager) registerBoolVar(flag *Flag, cmds []*cobra.Command) error {
	for _, c := range cmds {
		val, ok := flag.Value.(*bool)
		if !ok {
			return FlagValTypeErr{name: flag.Name, expected: "bool", found: reflect.TypeOf(flag.Value).String()}
		}
		defaultVal, _ := flag.DefaultValue.(bool)
		if flag.ShortHand != "" {
			c.Flags().BoolVarP(val, flag.Name, flag.ShortHand, defaultVal, flag.Usage)
		} else {
			c.Flags().BoolVar(val, flag.Name, defaultVal, flag.Usage)
		}
		m.setFlagOptions(flag, c)
	}
	return nil
}

func (m *CommandManager) registerIntVar(flag *Flag, cmds []*cobra.Command) error {
	for _, c := range cmds {
		val, ok := flag.Value.(*int)
		if !ok {
			return FlagValTypeErr{name: flag.Name, expected: "int", found: reflect.TypeOf(flag.Value).String()}
		}
		defaultVal, _ := flag.DefaultValue.(int)
		if flag.ShortHand != "" {
			c.Flags().IntVarP(val, flag.Name, flag.ShortHand, defaultVal, flag.Usage)
		} else {
			c.Flags().IntVar(val, flag.Name, defaultVal, flag.Usage)
		}
		m.setFlagOptions(flag, c)
	}
	return nil
}
