package searchindex

import "strings"

// traditionalToSimplified covers the common traditional Chinese characters
// seen in filenames so a search using the traditional form also matches
// entries named with the simplified form, per the reference tokenizer's
// substitution table. Not exhaustive — a pragmatic subset, extended as gaps
// surface.
var traditionalToSimplified = map[rune]rune{
	'國': '国', '學': '学', '語': '语', '書': '书', '電': '电',
	'腦': '脑', '網': '网', '絡': '络', '軟': '软', '體': '体',
	'術': '术', '資': '资', '訊': '讯', '檔': '档', '案': '案',
	'圖': '图', '片': '片', '視': '视', '頻': '频', '樂': '乐',
	'報': '报', '告': '告', '財': '财', '務': '务', '會': '会',
	'議': '议', '項': '项', '目': '目', '設': '设', '計': '计',
	'開': '开', '發': '发', '測': '测', '試': '试', '產': '产',
	'銷': '销', '售': '售', '購': '购', '買': '买', '讓': '让',
}

// lowerOnly lower-cases s (Unicode-aware strings.ToLower), producing files.name_lower (§3/§4.6) and the
// primary-pass query form. It does not touch CJK variants — a raw query
// only matches names that share its exact traditional/simplified form.
func lowerOnly(s string) string {
	return strings.ToLower(s)
}

// simplify maps traditional CJK characters in an already-lowered string to
// their simplified equivalents. It is applied only to the query, to build
// the supplementary search pass (§4.6 step 3); stored names are never
// simplified, so a raw exact match (primary pass) and a match that only
// succeeds after simplification (supplementary pass) stay distinguishable.
func simplify(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if simplified, ok := traditionalToSimplified[r]; ok {
			r = simplified
		}
		b.WriteRune(r)
	}
	return b.String()
}
