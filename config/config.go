package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultSubject is the exact subject line the reservation form submits with.
const DefaultSubject = "[aljonuschka] Reservierungsanfragen - neue Einreichung"

type IMAP struct {
	Server   string `yaml:"Server"`
	Port     int    `yaml:"Port"`
	Username string `yaml:"Username"`
	Password string `yaml:"Password"`
}

type SMTP struct {
	Server   string `yaml:"Server"`
	Port     int    `yaml:"Port"`
	Username string `yaml:"Username"`
	Password string `yaml:"Password"`
	From     string `yaml:"From"`
}

type ObjectStorage struct {
	Endpoint  string `yaml:"Endpoint"`
	AccessKey string `yaml:"AccessKey"`
	SecretKey string `yaml:"SecretKey"`
	Bucket    string `yaml:"Bucket"`
	Region    string `yaml:"Region"`
}

type Config struct {
	Database      string        `yaml:"Database"`
	LogFile       string        `yaml:"LogFile"`
	Listen        string        `yaml:"Listen"`
	Subject       string        `yaml:"Subject"`
	IMAP          IMAP          `yaml:"IMAP"`
	SMTP          SMTP          `yaml:"SMTP"`
	ObjectStorage ObjectStorage `yaml:"ObjectStorage"`
}

func Load(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var conf Config
	if err := yaml.Unmarshal(buf, &conf); err != nil {
		return nil, err
	}

	if conf.Subject == "" {
		conf.Subject = DefaultSubject
	}
	if conf.Listen == "" {
		conf.Listen = ":8080"
	}

	return &conf, nil
}
