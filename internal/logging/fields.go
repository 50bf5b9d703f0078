package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// CrateFields 提供 crate/version 字段，供发布与下载日志复用。
func CrateFields(action, name, version string) logrus.Fields {
	return logrus.Fields{
		"action":  action,
		"crate":   name,
		"version": version,
	}
}
