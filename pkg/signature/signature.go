package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Verify 验证Gitea webhook的HMAC-SHA256签名
//
// Gitea用注册webhook时配置的密钥对原始请求体做HMAC-SHA256签名，
// 放在X-Gitea-Signature头中（十六进制编码）。这里必须用读取JSON之前
// 的原始字节计算，重新序列化后的内容签不出相同的值。
//
// 签名头或密钥为空一律视为验证失败，不作为配置错误抛出。
func Verify(payload []byte, signatureHeader, secret string) bool {
	if signatureHeader == "" || secret == "" {
		return false
	}

	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	expected := hex.EncodeToString(h.Sum(nil))

	// 常数时间比较，避免时序侧信道
	return hmac.Equal([]byte(expected), []byte(signatureHeader))
}

// Sign 计算载荷的HMAC-SHA256签名（十六进制）
//
// 测试和本地联调用，与Gitea的签名方式保持一致。
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
