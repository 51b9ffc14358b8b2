// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"encoding/json"
	"flag"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gomlx/disttile/pkg/support/xslices"
	"github.com/pkg/errors"
)

// Params holds named hyperparameters and their current values. The type of the default value of each parameter
// defines how settings for it are parsed.
type Params map[string]any

// Get returns the value of the parameter key, converted to T, or defaultValue if it is not set or has a different
// type.
func Get[T any](params Params, key string, defaultValue T) T {
	value, found := params[key]
	if !found {
		return defaultValue
	}
	typed, ok := value.(T)
	if !ok {
		return defaultValue
	}
	return typed
}

// ParseSettings from settings -- typically the contents of a flag set by the user.
// The settings are a list separated by ";": e.g.: "param1=value1;param2=value2;...".
//
// All the parameters "param1", "param2", etc. must be already set with default values
// in params. The default values are also used to set the type to which the
// string values will be parsed to.
//
// It updates params accordingly and returns the names of the parameters set, or an error in case a parameter
// is unknown or the parsing failed.
//
// A setting "file:<path>" reads settings from the file, one or more per line, with lines starting with "#"
// considered comments.
//
// For integer types, "_" is removed: it allows one to enter large numbers using it as a separator, like
// in Go. E.g.: 1_000_000 = 1000000.
func ParseSettings(params Params, settings string) (paramsSet []string, err error) {
	for _, setting := range strings.Split(settings, ";") {
		paramsSet, err = parseSetting(params, setting, paramsSet)
		if err != nil {
			return
		}
	}
	return
}

// replaceTildeInDir replaces a leading "~" by the user's home directory.
func replaceTildeInDir(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrapf(err, "failed to find home directory to expand %q", path)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

func parseSetting(params Params, setting string, paramsSet []string) (newParamsSet []string, err error) {
	newParamsSet = paramsSet
	setting = strings.TrimSpace(setting)
	if setting == "" {
		return
	}
	if strings.HasPrefix(setting, "file:") {
		var filePath string
		filePath, err = replaceTildeInDir(strings.TrimPrefix(setting, "file:"))
		if err != nil {
			return
		}
		var contents []byte
		contents, err = os.ReadFile(filePath)
		if err != nil {
			err = errors.Wrapf(err, "failed to read settings from file %q", filePath)
			return
		}
		for _, line := range strings.Split(string(contents), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			for _, setting := range strings.Split(line, ";") {
				newParamsSet, err = parseSetting(params, setting, newParamsSet)
				if err != nil {
					return
				}
			}
		}
		return
	}

	paramName, valueStr, found := strings.Cut(setting, "=")
	if !found {
		err = errors.Errorf("can't parse settings %q: each setting requires the format \"<param>=<value>\"", setting)
		return
	}
	value, found := params[paramName]
	if !found {
		err = errors.Errorf("can't set parameter %q because it is not known", paramName)
		return
	}

	switch v := value.(type) {
	case int:
		err = json.Unmarshal([]byte(strings.ReplaceAll(valueStr, "_", "")), &v)
		value = v
	case int64:
		err = json.Unmarshal([]byte(strings.ReplaceAll(valueStr, "_", "")), &v)
		value = v
	case uint64:
		err = json.Unmarshal([]byte(strings.ReplaceAll(valueStr, "_", "")), &v)
		value = v
	case float64:
		err = json.Unmarshal([]byte(valueStr), &v)
		value = v
	case bool:
		err = json.Unmarshal([]byte(valueStr), &v)
		value = v
	case string:
		value = valueStr
	case []string:
		value = strings.Split(valueStr, ",")
	case []int:
		value = xslices.Map(strings.Split(valueStr, ","), func(str string) int {
			var asInt int
			if newErr := json.Unmarshal([]byte(strings.ReplaceAll(str, "_", "")), &asInt); newErr != nil {
				err = newErr
			}
			return asInt
		})
	case []float64:
		value = xslices.Map(strings.Split(valueStr, ","), func(str string) float64 {
			var asNum float64
			if newErr := json.Unmarshal([]byte(str), &asNum); newErr != nil {
				err = newErr
			}
			return asNum
		})
	default:
		err = fmt.Errorf("don't know how to parse type %T for setting parameter %q", value, setting)
	}
	if err != nil {
		err = errors.Wrapf(err, "failed to parse value %q for parameter %q (default value is %#v)",
			valueStr, paramName, params[paramName])
		return
	}
	params[paramName] = value
	newParamsSet = append(newParamsSet, paramName)
	return
}

// CreateSettingsFlag create a string flag with the given flagName (if empty it will be named
// "set") and with a description of the parameters defined in params.
//
// The flag should be created before the call to `flags.Parse()`.
//
// Example usage:
//
//	func main() {
//		params := commandline.Params{"learning_rate": 0.01, "steps": 1000}
//		settings := commandline.CreateSettingsFlag(params, "")
//		flag.Parse()
//		_, err := commandline.ParseSettings(params, *settings)
//		if err != nil { panic(err) }
//		fmt.Println(commandline.SprintSettings(params))
//		...
//	}
func CreateSettingsFlag(params Params, flagName string) *string {
	if flagName == "" {
		flagName = "set"
	}
	parts := []string{`Set hyperparameters. ` +
		`It should be a list of elements "param=value" separated by ";". ` +
		`It can also be given an entry like: "file:settings_file.txt", in ` +
		`which case the file will be read and the settings will be parsed, ` +
		`with new-lines working as ";" to separate settings and lines starting with "#" are considered comments. ` +
		`Current available parameters that can be set:`}
	for _, key := range slices.Sorted(maps.Keys(params)) {
		parts = append(parts, fmt.Sprintf("%q: default value is %v", key, params[key]))
	}
	return flag.String(flagName, "", strings.Join(parts, "\n"))
}

// SprintSettings pretty-print values for the current hyperparameters settings into a string.
func SprintSettings(params Params) string {
	var parts []string
	for _, key := range slices.Sorted(maps.Keys(params)) {
		value := params[key]
		parts = append(parts, fmt.Sprintf("\t%q: (%T) %v", key, value, value))
	}
	return strings.Join(parts, "\n")
}
