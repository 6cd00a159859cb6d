package domain

import (
	"errors"
	"strings"

	"golang.org/x/text/language"
)

var supportedLocales = []language.Tag{language.English, language.Indonesian, language.Chinese}

var localeMatcher = language.NewMatcher(supportedLocales)

type messageKey string

const (
	msgCancelled   messageKey = "cancelled"
	msgModerated   messageKey = "moderated"
	msgTimeout     messageKey = "timeout"
	msgDecode      messageKey = "decode"
	msgUnavailable messageKey = "unavailable"
	msgRemote      messageKey = "remote"
)

var catalog = map[string]map[messageKey]string{
	"en": {
		msgCancelled:   "Cancelled",
		msgModerated:   "The content was blocked by the safety filter. Try rephrasing the prompt or using a different reference image.",
		msgTimeout:     "Generation is taking too long. Please try again later.",
		msgDecode:      "The image was generated but could not be sliced. Please retry.",
		msgUnavailable: "Video merging is not available on this server.",
		msgRemote:      "Generation failed",
	},
	"id": {
		msgCancelled:   "Dibatalkan",
		msgModerated:   "Konten diblokir oleh filter keamanan. Coba ubah prompt atau gunakan gambar referensi lain.",
		msgTimeout:     "Proses generate terlalu lama. Silakan coba lagi nanti.",
		msgDecode:      "Gambar berhasil dibuat tetapi gagal dipotong. Silakan coba lagi.",
		msgUnavailable: "Penggabungan video tidak tersedia di server ini.",
		msgRemote:      "Proses generate gagal",
	},
	"zh": {
		msgCancelled:   "已取消",
		msgModerated:   "内容被安全过滤器拦截，请修改提示词或更换参考图。",
		msgTimeout:     "生成时间过长，请稍后重试。",
		msgDecode:      "图片已生成，但切分失败，请重试。",
		msgUnavailable: "当前服务器不支持视频合并。",
		msgRemote:      "生成失败",
	},
}

// NormalizeLocale maps any BCP 47 tag onto one of the catalog locales.
func NormalizeLocale(locale string) string {
	tag, _, _ := localeMatcher.Match(language.Make(strings.TrimSpace(locale)))
	base, _ := tag.Base()
	switch base.String() {
	case "id", "zh":
		return base.String()
	}
	return "en"
}

// FriendlyMessage returns the short text stored on a failed task or card.
// Submission and configuration errors keep the original text.
func FriendlyMessage(err error, locale string) string {
	if err == nil {
		return ""
	}
	texts := catalog[NormalizeLocale(locale)]
	switch KindOf(err) {
	case KindCancelled:
		return texts[msgCancelled]
	case KindPollingTimeout:
		return texts[msgTimeout]
	case KindDecodeFailure:
		return texts[msgDecode]
	case KindBackendUnavailable:
		return texts[msgUnavailable]
	case KindRemoteFailure:
		if IsModerated(err) {
			return texts[msgModerated]
		}
		var rf *RemoteFailureError
		if errors.As(err, &rf) && rf.Reason != "" {
			return texts[msgRemote] + ": " + rf.Reason
		}
		return texts[msgRemote]
	}
	return err.Error()
}
