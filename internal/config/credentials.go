package config

import (
	"fmt"
	"net/url"

	"github.com/spf13/viper"
)

// Credentials is the credentials.json document shared with earlier
// deployments of the crawler.
type Credentials struct {
	Schema   string `mapstructure:"schema"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	DB       string `mapstructure:"db"`
	Auth     string `mapstructure:"auth"`
}

// LoadCredentials reads a credentials file.
func LoadCredentials(path string) (Credentials, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return Credentials{}, fmt.Errorf("read credentials: %w", err)
	}
	var c Credentials
	if err := v.Unmarshal(&c); err != nil {
		return Credentials{}, fmt.Errorf("unmarshal credentials: %w", err)
	}
	if c.Host == "" {
		return Credentials{}, fmt.Errorf("credentials: host is required")
	}
	return c, nil
}

// MongoURI renders {schema}{user}:{pass}@{host}:{port}/{db}?authSource={auth}.
func (c Credentials) MongoURI() string {
	schema := c.Schema
	if schema == "" {
		schema = "mongodb://"
	}
	userinfo := ""
	if c.Username != "" {
		userinfo = url.UserPassword(c.Username, c.Password).String() + "@"
	}
	host := c.Host
	if c.Port != "" {
		host += ":" + c.Port
	}
	uri := schema + userinfo + host + "/" + c.DB
	if c.Auth != "" {
		uri += "?authSource=" + url.QueryEscape(c.Auth)
	}
	return uri
}

// ApplyCredentials switches the store to mongo using the credentials file.
func (c *Config) ApplyCredentials(creds Credentials) {
	c.Store.Driver = "mongo"
	c.Store.Mongo.URI = creds.MongoURI()
}
