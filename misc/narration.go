package misc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/taleforge/offline-cache/models"
)

// AssembleNarration downloads the narration audio of every segment and
// concatenates it into a single audio file for the completed story.
// Returns the path of the assembled file.
func AssembleNarration(ctx context.Context, storyID string, audioURLs []string) (string, error) {
	if len(audioURLs) == 0 {
		return "", fmt.Errorf("story %s has no narrated segments", storyID)
	}

	tempDir := ""
	if runtime.GOOS == "darwin" {
		tempDir = "/tmp/taleforge"
	} else {
		tempDir = "/dev/shm/taleforge" // RAM-backed storage for faster disk operations
	}
	if _, err := os.Stat(tempDir); os.IsNotExist(err) {
		if err := os.MkdirAll(tempDir, 0755); err != nil {
			return "", fmt.Errorf("failed to create temp directory: %w", err)
		}
	}

	audioPaths := make([]string, len(audioURLs))
	sem := make(chan struct{}, 2) // Limit concurrent downloads
	var wg sync.WaitGroup
	errChan := make(chan error, len(audioURLs))

	for idx, url := range audioURLs {
		idx := idx
		url := url
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			dest := filepath.Join(tempDir, fmt.Sprintf("story_%s_seg_%d.mp3", storyID, idx))
			if err := downloadAudio(ctx, url, dest); err != nil {
				errChan <- err
				return
			}
			audioPaths[idx] = dest
		}()
	}

	wg.Wait()
	close(errChan)
	for err := range errChan {
		if err != nil {
			return "", err
		}
	}

	concatListPath, err := WriteConcatList(tempDir, storyID, audioPaths)
	if err != nil {
		return "", err
	}

	outPath := filepath.Join(tempDir, fmt.Sprintf("story_%s_narration.mp3", storyID))
	ffmpegCmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", concatListPath,
		"-c", "copy",
		outPath,
	)
	if out, err := ffmpegCmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("ffmpeg concat failed: %w, details: %s", err, out)
	}

	return outPath, nil
}

// WriteConcatList writes the ffmpeg concat input file listing every
// segment audio path in order.
func WriteConcatList(tempDir, storyID string, paths []string) (string, error) {
	concatListPath := filepath.Join(tempDir, fmt.Sprintf("story_%s_concat.txt", storyID))
	concatFile, err := os.Create(concatListPath)
	if err != nil {
		return "", fmt.Errorf("failed to create concat file: %w", err)
	}
	defer concatFile.Close()

	for _, p := range paths {
		if _, err := fmt.Fprintf(concatFile, "file '%s'\n", p); err != nil {
			return "", err
		}
	}
	return concatListPath, nil
}

// SortedAudioURLs returns the audio URLs of narrated segments in
// presentation order. Segments without audio yet are skipped.
func SortedAudioURLs(segments []models.StorySegment) []string {
	ordered := make([]models.StorySegment, len(segments))
	copy(ordered, segments)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].SequenceNumber < ordered[j].SequenceNumber
	})
	urls := make([]string, 0, len(ordered))
	for _, seg := range ordered {
		if seg.AudioURL != "" {
			urls = append(urls, seg.AudioURL)
		}
	}
	return urls
}

func downloadAudio(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("download segment audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download segment audio: unexpected status %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(f, resp.Body)
	return err
}
