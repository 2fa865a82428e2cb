package config

import "errors"

var (
	// ErrInvalidConfig 配置值不合法
	ErrInvalidConfig = errors.New("invalid config")
	// ErrLoadConfig 配置文件或环境变量读取失败
	ErrLoadConfig = errors.New("load config failed")
)
