// Package owfsd supervises the owfs FUSE daemon that provides the 1-Wire
// mount read by package owfs.
//
// Supervision is optional: most installations run owfs from the init
// system. When onewire.daemon.managed is set, the bridge starts owfs in
// the foreground as a child process, forwards its output to the log and
// restarts it with exponential backoff when it exits or when the mount
// stops showing the owfs control directories.
//
//	sup, err := owfsd.New(owfsd.Config{
//	    Binary:      "/usr/bin/owfs",
//	    MountPath:   "/mnt/1wire",
//	    Adapter:     []string{"-u"},
//	    HealthCheck: owfsd.MountCheck("/mnt/1wire"),
//	})
//	if err != nil {
//	    return err
//	}
//	if err := sup.Start(ctx); err != nil {
//	    return err
//	}
//	defer sup.Stop()
package owfsd
