package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aristath/coinwatch/internal/database"
	"github.com/rs/zerolog"
)

const (
	// Archives beyond the keep count are deleted, but never below this floor.
	minArchivesKept = 3

	backupTimeLayout = "2006-01-02-150405"
	metadataFilename = "backup-metadata.json"

	// Version of the archive layout, bumped if the contents change shape.
	backupFormatVersion = "1.0.0"
)

// BlobStore is the storage operation set the backup service needs.
// *ObjectStore satisfies it; tests swap in a fake.
type BlobStore interface {
	Upload(ctx context.Context, key string, body io.Reader) error
	List(ctx context.Context, prefix string) ([]StoredObject, error)
	Delete(ctx context.Context, key string) error
}

// BackupMetadata describes the contents of one backup archive.
type BackupMetadata struct {
	Timestamp time.Time          `json:"timestamp"`
	Version   string             `json:"version"`
	Databases []DatabaseMetadata `json:"databases"`
}

// DatabaseMetadata describes a single database snapshot inside an archive.
type DatabaseMetadata struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// BackupInfo describes one archive stored in the bucket.
type BackupInfo struct {
	Filename  string    `json:"filename"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  int64     `json:"age_hours"`
}

// BackupService snapshots every database with VACUUM INTO, bundles the
// snapshots into a tar.gz archive and uploads it to an S3-compatible bucket.
// With a nil store the service is disabled and Run is a no-op.
type BackupService struct {
	databases map[string]*database.DB
	store     BlobStore
	dataDir   string
	prefix    string
	keep      int
	log       zerolog.Logger
}

// NewBackupService creates a backup service over the given databases.
// prefix names the archives ("<prefix>-backup-<timestamp>.tar.gz") and keep
// bounds how many archives rotation leaves behind.
func NewBackupService(databases map[string]*database.DB, store BlobStore, dataDir, prefix string, keep int, log zerolog.Logger) *BackupService {
	if prefix == "" {
		prefix = "coinwatch"
	}
	if keep < minArchivesKept {
		keep = minArchivesKept
	}

	return &BackupService{
		databases: databases,
		store:     store,
		dataDir:   dataDir,
		prefix:    prefix,
		keep:      keep,
		log:       log.With().Str("component", "backup").Logger(),
	}
}

// Enabled reports whether a destination bucket is configured.
func (s *BackupService) Enabled() bool {
	return s.store != nil
}

// Run creates and uploads one backup, then rotates old archives.
func (s *BackupService) Run(ctx context.Context) error {
	if s.store == nil {
		s.log.Info().Msg("No backup bucket configured, skipping")
		return nil
	}

	archive, err := s.CreateAndUpload(ctx)
	if err != nil {
		return err
	}

	if err := s.Rotate(ctx); err != nil {
		// The archive made it out; rotation can catch up on the next run.
		s.log.Warn().Err(err).Str("archive", archive).Msg("Backup rotation failed")
	}

	return nil
}

// CreateAndUpload builds one archive and uploads it, returning the archive name.
func (s *BackupService) CreateAndUpload(ctx context.Context) (string, error) {
	if s.store == nil {
		return "", fmt.Errorf("backups are not configured")
	}

	s.log.Info().Msg("Starting backup")
	startTime := time.Now()

	stagingDir := filepath.Join(s.dataDir, "backup-staging")
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	metadata := BackupMetadata{
		Timestamp: time.Now().UTC(),
		Version:   backupFormatVersion,
		Databases: make([]DatabaseMetadata, 0, len(s.databases)),
	}

	names := make([]string, 0, len(s.databases))
	for name := range s.databases {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		filename := name + ".db"
		snapshotPath := filepath.Join(stagingDir, filename)

		s.log.Debug().Str("database", name).Msg("Snapshotting database")

		if err := s.databases[name].BackupTo(ctx, snapshotPath); err != nil {
			return "", fmt.Errorf("failed to snapshot %s: %w", name, err)
		}

		info, err := os.Stat(snapshotPath)
		if err != nil {
			return "", fmt.Errorf("failed to stat %s snapshot: %w", name, err)
		}

		checksum, err := fileChecksum(snapshotPath)
		if err != nil {
			return "", fmt.Errorf("failed to checksum %s snapshot: %w", name, err)
		}

		metadata.Databases = append(metadata.Databases, DatabaseMetadata{
			Name:      name,
			Filename:  filename,
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
	}

	if err := writeMetadata(filepath.Join(stagingDir, metadataFilename), metadata); err != nil {
		return "", fmt.Errorf("failed to write metadata: %w", err)
	}

	archiveName := s.archiveName(metadata.Timestamp)
	archivePath := filepath.Join(stagingDir, archiveName)

	files := make([]string, 0, len(names)+1)
	for _, name := range names {
		files = append(files, name+".db")
	}
	files = append(files, metadataFilename)

	if err := createArchive(archivePath, stagingDir, files); err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}

	archiveInfo, err := os.Stat(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to stat archive: %w", err)
	}

	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer archiveFile.Close()

	if err := s.store.Upload(ctx, archiveName, archiveFile); err != nil {
		return "", fmt.Errorf("failed to upload archive: %w", err)
	}

	s.log.Info().
		Dur("elapsed", time.Since(startTime)).
		Str("archive", archiveName).
		Int64("size_bytes", archiveInfo.Size()).
		Msg("Backup uploaded")

	return archiveName, nil
}

// ListBackups returns the archives in the bucket, newest first.
func (s *BackupService) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	if s.store == nil {
		return nil, fmt.Errorf("backups are not configured")
	}

	objects, err := s.store.List(ctx, s.prefix+"-backup-")
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	backups := make([]BackupInfo, 0, len(objects))
	now := time.Now()

	for _, obj := range objects {
		timestamp, ok := s.parseArchiveName(obj.Key)
		if !ok {
			s.log.Warn().Str("key", obj.Key).Msg("Skipping object with unrecognized name")
			continue
		}

		backups = append(backups, BackupInfo{
			Filename:  obj.Key,
			Timestamp: timestamp,
			SizeBytes: obj.SizeBytes,
			AgeHours:  int64(now.Sub(timestamp).Hours()),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})

	return backups, nil
}

// Rotate deletes archives beyond the keep count, oldest first.
func (s *BackupService) Rotate(ctx context.Context) error {
	backups, err := s.ListBackups(ctx)
	if err != nil {
		return err
	}

	if len(backups) <= s.keep {
		return nil
	}

	deleted := 0
	for _, backup := range backups[s.keep:] {
		if err := s.store.Delete(ctx, backup.Filename); err != nil {
			s.log.Error().Err(err).Str("archive", backup.Filename).Msg("Failed to delete old backup")
			continue
		}

		s.log.Info().
			Str("archive", backup.Filename).
			Time("timestamp", backup.Timestamp).
			Msg("Deleted old backup")
		deleted++
	}

	s.log.Info().
		Int("deleted", deleted).
		Int("kept", len(backups)-deleted).
		Msg("Backup rotation completed")

	return nil
}

func (s *BackupService) archiveName(t time.Time) string {
	return fmt.Sprintf("%s-backup-%s.tar.gz", s.prefix, t.Format(backupTimeLayout))
}

// parseArchiveName extracts the timestamp from "<prefix>-backup-<ts>.tar.gz".
func (s *BackupService) parseArchiveName(key string) (time.Time, bool) {
	namePrefix := s.prefix + "-backup-"
	if !strings.HasPrefix(key, namePrefix) || !strings.HasSuffix(key, ".tar.gz") {
		return time.Time{}, false
	}

	stamp := strings.TrimSuffix(strings.TrimPrefix(key, namePrefix), ".tar.gz")
	timestamp, err := time.Parse(backupTimeLayout, stamp)
	if err != nil {
		return time.Time{}, false
	}

	return timestamp, true
}

// fileChecksum computes the SHA256 digest of a file.
func fileChecksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}

	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}

func writeMetadata(path string, metadata BackupMetadata) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(metadata)
}

// createArchive builds a tar.gz at archivePath from files inside sourceDir.
func createArchive(archivePath, sourceDir string, filenames []string) error {
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer archiveFile.Close()

	gzipWriter := gzip.NewWriter(archiveFile)
	defer gzipWriter.Close()

	tarWriter := tar.NewWriter(gzipWriter)
	defer tarWriter.Close()

	for _, filename := range filenames {
		if err := addFileToArchive(tarWriter, filepath.Join(sourceDir, filename), filename); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", filename, err)
		}
	}

	return nil
}

func addFileToArchive(tarWriter *tar.Writer, filePath, nameInArchive string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Name:    nameInArchive,
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}

	if err := tarWriter.WriteHeader(header); err != nil {
		return err
	}

	if _, err := io.Copy(tarWriter, file); err != nil {
		return err
	}

	return nil
}
