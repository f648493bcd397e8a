package rediskey

import "fmt"

// Service keys (global convention across processes)
const (
	ServicePrefix = "encoin"
	LockPrefix    = "encoin:lock"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildLockKey returns "encoin:lock:{name}"
func BuildLockKey(name string) string {
	return NamespaceKey(LockPrefix, name)
}
