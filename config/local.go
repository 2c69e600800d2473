package config

import (
	"sync"
)

var (
	localOnce   sync.Once
	localConfig *LocalStorageConfig
)

type LocalStorageConfig struct {
	Root string
}

func GetLocalStorageConfig() *LocalStorageConfig {
	localOnce.Do(func() {
		loadEnv()

		localConfig = &LocalStorageConfig{
			Root: getString("LOCAL_STORAGE_ROOT", "data"),
		}
	})
	return localConfig
}
