// PromptStorage is a library and service for archiving ComfyUI workflows. Uploaded
// workflow documents (API exports, UI exports, or PNG files carrying either) are
// parsed into their prompts and generation settings, stored in SQLite, and served
// over a small JSON API for browsing, tagging, searching, collecting, and
// exporting.
package promptstorage
