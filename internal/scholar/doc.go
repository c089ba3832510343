// Package scholar defines the types and collaborator interfaces shared by the
// citation badge updater: the profile identifier, the citation count carried
// into the badge, and the fetch/store/publish contracts the updater drives.
package scholar
