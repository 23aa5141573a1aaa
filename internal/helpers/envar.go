// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.


package helpers

import (
	"os"
	"strconv"
	"strings"
)

// GetBoolEnv reads a boolean environment variable.
// "true", "1", "yes", "on", "enable" and "enabled" are true, their opposites
// are false (case insensitive). An unset or blank variable yields
// defaultValue; any other non-empty value is treated as true.
func GetBoolEnv(envVar string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(envVar))) {
	case "":
		return defaultValue
	case "false", "0", "no", "off", "disable", "disabled":
		return false
	default:
		return true
	}
}

// GetIntEnv reads a positive integer environment variable, falling back to
// defaultValue when it is unset or not a positive integer.
func GetIntEnv(envVar string, defaultValue int) int {
	s := strings.TrimSpace(os.Getenv(envVar))
	if s == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return defaultValue
	}
	return n
}
