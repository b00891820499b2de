package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/codebuildervaibhav/media-transcription/internal/types"
)

const folderMimeType = "application/vnd.google-apps.folder"

// DriveArchiver uploads finished transcripts to a Google Drive folder.
// Archival is best-effort: the pipeline treats upload failures as
// non-fatal because the transcript is already on local disk.
type DriveArchiver struct {
	service    *drive.Service
	folderName string
	folderID   string
	modelName  string
	log        zerolog.Logger
}

// NewDriveArchiver builds a Drive client from an OAuth credentials file
// and a previously saved token. The token must already exist; a server
// cannot run the interactive consent flow.
func NewDriveArchiver(ctx context.Context, credentialsFile, tokenFile, folderName, modelName string, log zerolog.Logger) (*DriveArchiver, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %v", err)
	}

	config, err := google.ConfigFromJSON(b, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %v", err)
	}

	tok, err := tokenFromFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("unable to load oauth token (run the authorization flow first): %v", err)
	}

	srv, err := drive.NewService(ctx, option.WithHTTPClient(config.Client(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Drive service: %v", err)
	}

	da := &DriveArchiver{
		service:    srv,
		folderName: folderName,
		modelName:  modelName,
		log:        log.With().Str("component", "drive").Logger(),
	}
	if err := da.ensureRootFolder(); err != nil {
		return nil, err
	}
	return da, nil
}

func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

func (da *DriveArchiver) ensureRootFolder() error {
	query := fmt.Sprintf("name='%s' and mimeType='%s' and trashed=false",
		da.folderName, folderMimeType)

	r, err := da.service.Files.List().Q(query).Spaces("drive").Fields("files(id, name)").Do()
	if err != nil {
		return fmt.Errorf("unable to search for folder: %v", err)
	}
	if len(r.Files) > 0 {
		da.folderID = r.Files[0].Id
		return nil
	}

	folder := &drive.File{Name: da.folderName, MimeType: folderMimeType}
	file, err := da.service.Files.Create(folder).Fields("id").Do()
	if err != nil {
		return fmt.Errorf("unable to create folder: %v", err)
	}
	da.folderID = file.Id
	return nil
}

// Archive uploads the transcript text and its metadata JSON into a
// dated subfolder and returns a shareable link to the transcript.
func (da *DriveArchiver) Archive(ctx context.Context, requestName string, result *types.TranscriptionResult) (string, error) {
	now := time.Now()
	folderID, err := da.ensureDateFolder(now)
	if err != nil {
		return "", err
	}

	timestamp := now.Format("20060102_150405")
	baseFilename := fmt.Sprintf("%s_%s", timestamp, sanitizeFilename(requestName))

	txtFile := &drive.File{
		Name:    baseFilename + ".txt",
		Parents: []string{folderID},
	}
	created, err := da.service.Files.Create(txtFile).
		Media(strings.NewReader(result.Text)).
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to upload transcript: %v", err)
	}

	metadata := map[string]interface{}{
		"task_id":          result.TaskID,
		"request_name":     requestName,
		"duration_seconds": result.Duration,
		"word_count":       result.WordCount,
		"model_used":       da.modelName,
		"language":         result.Language,
		"created_at":       result.ProcessedAt,
		"segments":         result.Segments,
	}
	metaJSON, _ := json.MarshalIndent(metadata, "", "  ")

	metaFile := &drive.File{
		Name:    baseFilename + "_meta.json",
		Parents: []string{folderID},
	}
	if _, err := da.service.Files.Create(metaFile).
		Media(bytes.NewReader(metaJSON)).
		Context(ctx).Do(); err != nil {
		da.log.Warn().Err(err).Msg("Failed to upload metadata file")
	}

	fileURL := fmt.Sprintf("https://drive.google.com/file/d/%s/view", created.Id)
	da.log.Info().Str("name", baseFilename).Msg("Transcript archived to Drive")
	return fileURL, nil
}

// ensureDateFolder creates nested year/month/day folders.
func (da *DriveArchiver) ensureDateFolder(t time.Time) (string, error) {
	yearID, err := da.findOrCreateFolder(fmt.Sprintf("%d", t.Year()), da.folderID)
	if err != nil {
		return "", err
	}
	monthID, err := da.findOrCreateFolder(fmt.Sprintf("%02d", t.Month()), yearID)
	if err != nil {
		return "", err
	}
	return da.findOrCreateFolder(fmt.Sprintf("%02d", t.Day()), monthID)
}

func (da *DriveArchiver) findOrCreateFolder(name, parentID string) (string, error) {
	query := fmt.Sprintf("name='%s' and '%s' in parents and mimeType='%s' and trashed=false",
		name, parentID, folderMimeType)

	r, err := da.service.Files.List().Q(query).Spaces("drive").Fields("files(id)").Do()
	if err != nil {
		return "", err
	}
	if len(r.Files) > 0 {
		return r.Files[0].Id, nil
	}

	folder := &drive.File{
		Name:     name,
		MimeType: folderMimeType,
		Parents:  []string{parentID},
	}
	file, err := da.service.Files.Create(folder).Fields("id").Do()
	if err != nil {
		return "", err
	}
	return file.Id, nil
}
