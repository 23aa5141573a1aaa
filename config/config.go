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


package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cardinalhq/geostats/pkg/geostats"
)

// Config aggregates configuration for the application.
// Each field is owned by its respective package.
type Config struct {
	Accumulator geostats.Config `mapstructure:"accumulator"`
	Server      ServerConfig    `mapstructure:"server"`
}

// ServerConfig configures `geostats serve`.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// IdleTimeout evicts a named accumulator nobody has touched for this long.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	// MaxBodyBytes caps the size of one uploaded tile.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:         8080,
		IdleTimeout:  15 * time.Minute,
		MaxBodyBytes: 16 << 20,
	}
}

// Load reads configuration from files and environment variables.
// Environment variables use the prefix "GEOSTATS" and the dot character
// in keys is replaced by an underscore. For example,
// "accumulator.require_gzip" becomes "GEOSTATS_ACCUMULATOR_REQUIRE_GZIP".
func Load() (*Config, error) {
	cfg := &Config{
		Accumulator: geostats.DefaultConfig(),
		Server:      DefaultServerConfig(),
	}

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("GEOSTATS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	_ = v.ReadInConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts, tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
