package i18n

// Translator retrieves localized messages for Issue codes.
// data provides optional metadata to embed in the message (for example,
// "field" or "type").
type Translator interface {
	Message(code string, data map[string]string) string
}

// dictTranslator is the built-in dictionary-based Translator.
type dictTranslator struct{ lang string }

func (t dictTranslator) Message(code string, data map[string]string) string {
	switch t.lang {
	case "ja":
		switch code {
		case "invalid_type":
			return "型が不正です"
		case "required":
			return "必須フィールドが不足しています"
		case "unresolved":
			return "必須フィールドを解決できませんでした"
		case "unknown_key":
			return "未知のキーです"
		case "no_serializer":
			return "この型を扱うシリアライザがありません"
		case "shadowed":
			return "より汎用的なシリアライザに隠されています"
		case "default_conflict":
			return "デフォルト値とデフォルト生成関数が重複しています"
		case "producer_unset":
			return "デフォルト生成関数が値を設定しませんでした"
		case "unknown_field":
			return "スキーマに存在しないフィールドです"
		case "parse_error":
			return "解析エラー"
		case "duplicate_key":
			return "キーが重複しています"
		case "dependency_unavailable":
			return "依存先サービスが利用できません"
		}
	default: // "en"
		switch code {
		case "invalid_type":
			return "invalid type"
		case "required":
			return "required field missing"
		case "unresolved":
			return "required field could not be resolved"
		case "unknown_key":
			return "unknown key"
		case "no_serializer":
			return "no serializer supports this type"
		case "shadowed":
			return "serializer is shadowed by a more general one"
		case "default_conflict":
			return "field has both a default and a default producer"
		case "producer_unset":
			return "default producer did not set a value"
		case "unknown_field":
			return "field is not declared by the schema"
		case "parse_error":
			return "parse error"
		case "duplicate_key":
			return "duplicate key"
		case "dependency_unavailable":
			return "dependency unavailable"
		}
	}
	return code
}

var currentTranslator Translator = dictTranslator{lang: "en"}

// SetLanguage switches the built-in Translator language ("en"/"ja").
func SetLanguage(lang string) {
	if lang != "ja" {
		lang = "en"
	}
	currentTranslator = dictTranslator{lang: lang}
}

// SetTranslator replaces the Translator implementation (not limited to the
// dictionary version).
func SetTranslator(tr Translator) {
	if tr == nil {
		currentTranslator = dictTranslator{lang: "en"}
		return
	}
	currentTranslator = tr
}

// T fetches a message for the given code using the current Translator.
func T(code string, data map[string]string) string { return currentTranslator.Message(code, data) }
