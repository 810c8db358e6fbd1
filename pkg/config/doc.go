// Package config loads typed configuration structs from environment
// variables, with per-type caching so the same configuration is parsed
// once for the whole process.
//
// Structs declare their variables with `env` tags:
//
//	type OAuthConfig struct {
//		ClientID     string `env:"CLIENT_ID,required"`
//		ClientSecret string `env:"CLIENT_SECRET,required"`
//	}
//
//	var cfg OAuthConfig
//	config.MustLoad(&cfg)
//
// A .env file in the working directory is picked up automatically when
// present.
package config
