package client

import (
	"net/url"
	"path"
)

const userInfoPath = "/userinfo"

func keyBundlePath(userID string) string {
	return path.Join("/keys/users", url.PathEscape(userID), "current-app")
}

func recordsPath(userID string) string {
	return path.Join("/users", url.PathEscape(userID), "records")
}

func recordPath(userID, recordID string) string {
	return path.Join(recordsPath(userID), url.PathEscape(recordID))
}

func documentsPath(userID string) string {
	return path.Join("/users", url.PathEscape(userID), "documents")
}

func documentPath(userID, documentID string) string {
	return path.Join(documentsPath(userID), url.PathEscape(documentID))
}
