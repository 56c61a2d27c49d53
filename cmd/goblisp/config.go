package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/pelletier/go-toml"
)

var configPaths = []string{
	"~/.config/goblisp.toml",
	"goblisp.toml",
}

// Flag defaults from a TOML file. Keys are flag names, and underscores work
// in place of dashes.
func TomlConfig(r io.Reader) (kong.Resolver, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	tree, err := toml.LoadBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	var resolver kong.ResolverFunc = func(context *kong.Context, parent *kong.Path, flag *kong.Flag) (interface{}, error) {
		for _, key := range configKeys(flag.Name) {
			if tree.Has(key) {
				return fmt.Sprint(tree.Get(key)), nil
			}
		}
		return nil, nil
	}
	return resolver, nil
}

func configKeys(name string) []string {
	keys := []string{name}
	if alt := strings.ReplaceAll(name, "-", "_"); alt != name {
		keys = append(keys, alt)
	}
	return keys
}
