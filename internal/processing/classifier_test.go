package processing

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		key  string
		want MediaType
	}{
		{"clip.mp4", MediaVideo},
		{"clip.MOV", MediaVideo},
		{"uploads/2024/holiday.Avi", MediaVideo},
		{"cat.jpg", MediaImage},
		{"cat.png", MediaImage},
		{"doc.pdf", MediaImage},
		{"mp4", MediaImage},
		{"archive.mp4.zip", MediaImage},
		{"noextension", MediaImage},
		{"", MediaImage},
		{"video.mp4/", MediaImage},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := Classify(tt.key); got != tt.want {
				t.Errorf("Classify(%q) = %s, want %s", tt.key, got, tt.want)
			}
		})
	}
}
