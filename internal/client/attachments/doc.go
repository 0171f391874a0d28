// Package attachments prepares attachment files for upload and checks them
// after download.
//
// Upload side: every file is size-limited and sniffed against a fixed magic
// byte table. Raster images taller than ThumbnailHeight get a thumbnail, and
// those taller than PreviewHeight a preview as well. Blobs are flattened in
// the order full, preview, thumbnail; FilesForAttachment maps the flat list
// back by summing per-attachment increments.
//
// Download side: GetAttachmentIDToDownload unpacks the identifier written at
// upload time, and VerifyAttachmentPayload compares content hashes of full
// size files created after HashCutoff.
package attachments
