// Package commands defines the encbackup CLI.
//
// Commands
//
//   - serve    Run the backup server
//   - backup   Register or reconnect, then back up files
//   - files    List files stored by the server
//   - events   List recorded security events
//   - clients  List registered clients
//
// Every command resolves the data directory from --data-dir, then
// ENCBACKUP_DATA_DIR, then the OS default, and loads server.json or
// client.json from it.
package commands
