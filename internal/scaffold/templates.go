package scaffold

const gitignore = `node_modules
dist
*.zip
.DS_Store
`

const backgroundIndex = `chrome.runtime.onInstalled.addListener(() => {
    console.log("Extension installed");
});
`

const contentIndex = `console.log("Content script loaded");
`

// popupHTML takes the HTML-escaped display name twice.
const popupHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <link rel="stylesheet" href="style.css">
    <title>%s</title>
</head>
<body>
    <div id="app">
        <h1>%s</h1>
    </div>
    <script src="main.js"></script>
</body>
</html>
`

const popupCSS = `* {
    margin: 0;
    padding: 0;
    box-sizing: border-box;
}

body {
    width: 320px;
    min-height: 200px;
    font-family: system-ui, sans-serif;
    padding: 16px;
}

h1 {
    font-size: 18px;
    font-weight: 600;
}
`

const popupMain = `const app = document.getElementById("app");
console.log("Popup loaded");
`
