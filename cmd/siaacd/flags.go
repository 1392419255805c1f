package main

import (
	"flag"
	"fmt"
	"strconv"
)

// flagSet wraps flag.FlagSet and replaces its Int64Var with one backed by
// the hand-rolled int64Value below.
type flagSet struct {
	*flag.FlagSet
}

// newCustomFlagSet creates a flagSet with ContinueOnError behavior.
func newCustomFlagSet(name string) *flagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	return &flagSet{FlagSet: fs}
}

// Int64Var defines an int64 flag.
func (fs *flagSet) Int64Var(p *int64, name string, value int64, usage string) {
	fs.FlagSet.Var(&int64Value{p: p}, name, usage)
	*p = value
}

// int64Value implements flag.Value for int64 flags.
type int64Value struct {
	p *int64
}

func (v *int64Value) String() string {
	if v.p == nil {
		return "0"
	}
	return strconv.FormatInt(*v.p, 10)
}

func (v *int64Value) Set(s string) error {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid int64 value %q", s)
	}
	*v.p = n
	return nil
}
