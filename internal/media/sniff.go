package media

import "bytes"

// MatchesType проверяет, что первые байты файла соответствуют заявленному Content-Type.
// Для типов без известной сигнатуры возвращает true.
func MatchesType(contentType string, head []byte) bool {
	switch contentType {
	case "image/jpeg":
		return len(head) >= 3 && head[0] == 0xFF && head[1] == 0xD8 && head[2] == 0xFF
	case "image/png":
		return len(head) >= 8 && bytes.Equal(head[:8], []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A})
	case "image/gif":
		return len(head) >= 6 && (bytes.Equal(head[:6], []byte("GIF87a")) || bytes.Equal(head[:6], []byte("GIF89a")))
	case "image/webp":
		return len(head) >= 12 && bytes.Equal(head[:4], []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WEBP"))
	case "audio/mp4":
		return len(head) >= 8 && bytes.Equal(head[4:8], []byte("ftyp"))
	case "audio/ogg":
		return len(head) >= 4 && bytes.Equal(head[:4], []byte("OggS"))
	case "audio/webm":
		return len(head) >= 4 && bytes.Equal(head[:4], []byte{0x1A, 0x45, 0xDF, 0xA3})
	case "audio/mpeg":
		return len(head) >= 3 && (bytes.Equal(head[:3], []byte("ID3")) || head[0] == 0xFF && head[1]&0xE0 == 0xE0)
	case "audio/aac":
		return len(head) >= 2 && head[0] == 0xFF && head[1]&0xF6 == 0xF0
	}
	return true
}
