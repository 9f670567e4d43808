package snapshot

import (
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/disk"
	"github.com/sirupsen/logrus"
)

// calculateDirectorySize calculates the total size of files within a directory
func calculateDirectorySize(path string) (size int64, err error) {
	err = filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return
}

// displayDiskUsage logs the disk usage of every path
func (s *Store) displayDiskUsage(paths []string) error {
	for _, path := range paths {
		usage, err := disk.Usage(path)
		if err != nil {
			s.log.WithFields(logrus.Fields{
				"path": path,
			}).Errorf("Error retrieving disk usage stats: %v", err)
			return err
		}

		pathSize, err := calculateDirectorySize(path)
		if err != nil {
			s.log.WithFields(logrus.Fields{
				"path": path,
			}).Errorf("Error calculating directory size: %v", err)
			return err
		}

		s.log.WithFields(logrus.Fields{
			"Path":          path,
			"Filesystem":    usage.Fstype,
			"Total":         humanize.Bytes(usage.Total),
			"Used":          humanize.Bytes(usage.Used),
			"Free":          humanize.Bytes(usage.Free),
			"Usage by Docs": humanize.Bytes(uint64(pathSize)),
		}).Info("Disk Usage")
	}

	return nil
}
