package util

import (
	"encoding/base64"
	"strconv"
)

func GenerateReferralTelegramCode(userChatId int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(userChatId, 10)))
}

func DecodeReferralTelegramCode(code string) (int64, error) {
	res, err := base64.RawURLEncoding.DecodeString(code)
	if err != nil {
		return 0, err
	}

	id, err := strconv.ParseInt(string(res), 10, 64)
	if err != nil {
		return 0, err
	}

	return id, nil
}
