package token

import "unicode"

// Language is a coarse script-level label stored on documents. It is
// informational; the analysis chain itself is language independent.
type Language string

const (
	LangKorean   Language = "ko"
	LangJapanese Language = "ja"
	LangChinese  Language = "zh"
	LangEnglish  Language = "en"
	LangUnknown  Language = "unknown"
)

// detectSampleRunes bounds how much of a document DetectLanguage scans.
const detectSampleRunes = 2000

// DetectLanguage guesses the dominant language of text by script ratio
// over a bounded prefix. Kana wins over Han (Japanese prose always mixes
// both), Hangul wins over latin at a low ratio since Korean technical
// text is dense with English terms.
func DetectLanguage(text string) Language {
	var hangul, kana, han, latin, total int
	for _, r := range text {
		if total >= detectSampleRunes {
			break
		}
		switch {
		case unicode.Is(unicode.Hangul, r):
			hangul++
		case unicode.Is(unicode.Hiragana, r), unicode.Is(unicode.Katakana, r):
			kana++
		case unicode.Is(unicode.Han, r):
			han++
		case unicode.IsLetter(r):
			latin++
		default:
			continue
		}
		total++
	}

	if total == 0 {
		return LangUnknown
	}
	switch {
	case kana*10 >= total:
		return LangJapanese
	case hangul*10 >= total:
		return LangKorean
	case han*2 >= total:
		return LangChinese
	case latin > 0:
		return LangEnglish
	default:
		return LangUnknown
	}
}
