package utils

import (
	"encoding/hex"

	uuid "github.com/satori/go.uuid"
)

// 生成uuid，32位十六进制字符串
func GenUuid() string {
	u := uuid.NewV4()
	return hex.EncodeToString(u.Bytes())
}
