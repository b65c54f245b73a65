package onvif

import "strings"

var xmlReplacer = strings.NewReplacer(
	"&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&apos;",
)

func escape(s string) string {
	return xmlReplacer.Replace(s)
}
